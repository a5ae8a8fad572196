// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package point

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"sort"
)

// UnixTime is a millisecond-resolution timestamp.
type UnixTime uint64

// Location identifies a slot in the DAG: a single author's point at a
// single round.
type Location struct {
	Round  Round
	Author PeerID
}

// PointID identifies one concrete point: its location plus the digest
// of its body.
type PointID struct {
	Location Location
	Digest   Digest
}

// Through names which edge kind an anchor link travels along.
type Through struct {
	// Includes is true when the link travels an includes-edge (round-1);
	// false means it travels a witness-edge (round-2).
	Includes bool
	Peer     PeerID
}

// LinkKind distinguishes the three shapes an anchor link may take.
type LinkKind uint8

const (
	// LinkToSelf means this point is itself the anchor.
	LinkToSelf LinkKind = iota
	// LinkDirect means the anchor is one includes/witness edge away.
	LinkDirect
	// LinkIndirect means the anchor is reached by following a named
	// edge to a point that itself links further back.
	LinkIndirect
)

// Link encodes an anchor-reachability hint: either this point is the
// anchor (ToSelf), the anchor is a direct include/witness neighbour
// (Direct), or it is reached transitively through one (Indirect, which
// also names the final destination for fast resolution).
type Link struct {
	Kind    LinkKind
	Through Through // valid for Direct and Indirect
	To      PointID // valid for Indirect only
}

// ToSelfLink returns the ToSelf link value.
func ToSelfLink() Link { return Link{Kind: LinkToSelf} }

// DirectLink returns a Direct link through the given edge.
func DirectLink(through Through) Link { return Link{Kind: LinkDirect, Through: through} }

// IndirectLink returns an Indirect link through the given edge to a
// final destination.
func IndirectLink(through Through, to PointID) Link {
	return Link{Kind: LinkIndirect, Through: through, To: to}
}

func (l Link) Equal(o Link) bool {
	if l.Kind != o.Kind {
		return false
	}
	switch l.Kind {
	case LinkToSelf:
		return true
	case LinkDirect:
		return l.Through == o.Through
	case LinkIndirect:
		return l.Through == o.Through && l.To.Digest == o.To.Digest && l.To.Location == o.To.Location
	default:
		return false
	}
}

// PrevPoint certifies the author's previous-round point: its digest,
// plus signatures from >= 2F other validators attesting to it.
type PrevPoint struct {
	Digest   Digest
	Evidence map[PeerID]Signature
}

// PointBody is the signable content of a point.
type PointBody struct {
	Location Location

	Time       UnixTime
	AnchorTime UnixTime

	// Payload is an ordered sequence of opaque external byte bundles.
	Payload [][]byte

	// Proof certifies the author's own previous-round point, if any
	// (genesis and the round right after a restart with no prior point
	// leave this nil).
	Proof *PrevPoint

	// Includes holds >= 2F+1 points at round-1, keyed by author. Must
	// contain the author's own digest iff Proof is set.
	Includes map[PeerID]Digest
	// Witness holds points at round-2, keyed by author. May be empty.
	Witness map[PeerID]Digest

	AnchorTrigger Link
	AnchorProof   Link
}

// Point is an immutable, signed DAG message: a body, the digest of that
// body, and the author's signature over the digest.
type Point struct {
	Body      PointBody
	Digest    Digest
	Signature Signature
}

// New signs body with priv and returns the resulting Point. Panics if
// priv's public key does not match body.Location.Author, mirroring the
// original's "produced point author must match local key pair" assert:
// producing a point for someone else's location is always a coding
// error, never a runtime condition to recover from.
func New(priv ed25519.PrivateKey, body PointBody) *Point {
	pub := priv.Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, body.Location.Author[:]) {
		panic("point: produced point author must match local key pair")
	}
	digest := DigestOf(encodeBody(body))
	return &Point{
		Body:      body,
		Digest:    digest,
		Signature: Sign(priv, digest),
	}
}

// ID returns the point's identifier.
func (p *Point) ID() PointID {
	return PointID{Location: p.Body.Location, Digest: p.Digest}
}

// PrevID returns the identifier of the point's proven previous-round
// point, or false if the point carries no proof (e.g. it is the
// author's first point since genesis or a restart).
func (p *Point) PrevID() (PointID, bool) {
	if p.Body.Proof == nil {
		return PointID{}, false
	}
	return PointID{
		Location: Location{Round: p.Body.Location.Round.Prev(), Author: p.Body.Location.Author},
		Digest:   p.Body.Proof.Digest,
	}, true
}

// IsIntegrityOK reports whether the point's signature verifies over its
// digest, and its digest matches a fresh hash of its body. A point
// failing this check may have been forged or mutated in transit; the
// sender and every dependent point's author are suspect, never the
// claimed author alone.
func (p *Point) IsIntegrityOK() bool {
	return p.Signature.Verifies(p.Body.Location.Author, p.Digest) &&
		p.Digest == DigestOf(encodeBody(p.Body))
}

// IsWellFormed reports whether the point's structure obeys the shape
// rules of section 3: genesis points are empty and self-anchored;
// non-genesis points carry consistent proof/includes bookkeeping and
// anchor links whose targets resolve to rounds implied by their kind.
// Must be checked immediately after IsIntegrityOK, before the point is
// used for anything else: it blames the author and every dependent
// point's author.
func (p *Point) IsWellFormed(genesisRound Round) bool {
	b := &p.Body
	author := b.Location.Author

	if b.Time < b.AnchorTime {
		return false
	}

	switch {
	case b.Location.Round == genesisRound:
		if len(b.Includes) != 0 || len(b.Witness) != 0 || len(b.Payload) != 0 ||
			b.Proof != nil || b.AnchorProof.Kind != LinkToSelf || b.AnchorTrigger.Kind != LinkToSelf {
			return false
		}
	case b.Location.Round > genesisRound:
		if b.Location.Round == genesisRound.Next() && len(b.Witness) != 0 {
			// no witness is possible at the round right after genesis
			return false
		}
		if b.AnchorProof.Kind == LinkToSelf && b.Proof == nil {
			return false
		}
		if b.AnchorTrigger.Kind == LinkToSelf && b.Proof == nil {
			return false
		}
	default:
		return false
	}

	// proof is listed in includes, to count toward 2F+1 and be
	// validated/committed as a dependency like any other include.
	if b.Proof != nil {
		incl, ok := b.Includes[author]
		if !ok || incl != b.Proof.Digest {
			return false
		}
		// evidence must contain only signatures of others
		if _, ok := b.Proof.Evidence[author]; ok {
			return false
		}
	} else if _, ok := b.Includes[author]; ok {
		return false
	}

	if !p.isLinkWellFormed(b.AnchorProof, genesisRound) || !p.isLinkWellFormed(b.AnchorTrigger, genesisRound) {
		return false
	}

	proofRound := p.AnchorRound(b.AnchorProof, genesisRound)
	triggerRound := p.AnchorRound(b.AnchorTrigger, genesisRound)
	switch {
	case triggerRound == genesisRound:
		return proofRound >= genesisRound
	case proofRound == genesisRound:
		return triggerRound >= genesisRound
	default:
		// equality is impossible: commit waves do not start every
		// round, and no indirect link may cross the genesis tombstone.
		return proofRound != triggerRound && proofRound > genesisRound && triggerRound > genesisRound
	}
}

func (p *Point) isLinkWellFormed(link Link, genesisRound Round) bool {
	b := &p.Body
	switch link.Kind {
	case LinkToSelf:
		return true
	case LinkDirect:
		if link.Through.Includes {
			_, ok := b.Includes[link.Through.Peer]
			return ok
		}
		_, ok := b.Witness[link.Through.Peer]
		return ok
	case LinkIndirect:
		if link.Through.Includes {
			if _, ok := b.Includes[link.Through.Peer]; !ok {
				return false
			}
			return link.To.Location.Round.Next() < b.Location.Round
		}
		if _, ok := b.Witness[link.Through.Peer]; !ok {
			return false
		}
		return link.To.Location.Round.Next().Next() < b.Location.Round
	default:
		return false
	}
}

// AnchorRound returns the round an anchor link resolves to, without
// necessarily having that point in hand: ToSelf is this point's own
// round, Direct(Includes) is round-1, Direct(Witness) is round-2, and
// Indirect is whatever round its named destination carries.
func (p *Point) AnchorRound(link Link, genesisRound Round) Round {
	switch link.Kind {
	case LinkToSelf:
		return p.Body.Location.Round
	case LinkDirect:
		if link.Through.Includes {
			return p.Body.Location.Round.Prev()
		}
		return p.Body.Location.Round.Prev().Prev()
	case LinkIndirect:
		return link.To.Location.Round
	default:
		return genesisRound
	}
}

// AnchorID returns the final destination a link resolves to: itself for
// ToSelf, the immediate neighbour's id for Direct, or the named
// destination for Indirect.
func (p *Point) AnchorID(link Link) PointID {
	if link.Kind == LinkIndirect {
		return link.To
	}
	return p.AnchorLinkID(link)
}

// AnchorLinkID returns the identifier of the next point on the path
// from this point toward the anchor (one includes/witness hop away).
// For ToSelf that is this point itself.
func (p *Point) AnchorLinkID(link Link) PointID {
	if link.Kind == LinkToSelf {
		return p.ID()
	}
	var (
		m     map[PeerID]Digest
		round Round
	)
	if link.Through.Includes {
		m, round = p.Body.Includes, p.Body.Location.Round.Prev()
	} else {
		m, round = p.Body.Witness, p.Body.Location.Round.Prev().Prev()
	}
	digest, ok := m[link.Through.Peer]
	if !ok {
		panic("point: usage of ill-formed point")
	}
	return PointID{Location: Location{Round: round, Author: link.Through.Peer}, Digest: digest}
}

// encodeBody produces a deterministic byte encoding of a PointBody. Map
// fields are serialized in peer-id sort order so that two processes
// that agree on the body's field values always agree on the digest,
// independent of Go's randomized map iteration order.
func encodeBody(b PointBody) []byte {
	var buf bytes.Buffer

	buf.Write(b.Location.Author[:])
	writeU32(&buf, uint32(b.Location.Round))
	writeU64(&buf, uint64(b.Time))
	writeU64(&buf, uint64(b.AnchorTime))

	writeU32(&buf, uint32(len(b.Payload)))
	for _, chunk := range b.Payload {
		writeU32(&buf, uint32(len(chunk)))
		buf.Write(chunk)
	}

	if b.Proof != nil {
		buf.WriteByte(1)
		buf.Write(b.Proof.Digest[:])
		writeSortedEvidence(&buf, b.Proof.Evidence)
	} else {
		buf.WriteByte(0)
	}

	writeSortedDigests(&buf, b.Includes)
	writeSortedDigests(&buf, b.Witness)

	writeLink(&buf, b.AnchorTrigger)
	writeLink(&buf, b.AnchorProof)

	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func sortedPeers[V any](m map[PeerID]V) []PeerID {
	peers := make([]PeerID, 0, len(m))
	for p := range m {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return bytes.Compare(peers[i][:], peers[j][:]) < 0 })
	return peers
}

func writeSortedDigests(buf *bytes.Buffer, m map[PeerID]Digest) {
	peers := sortedPeers(m)
	writeU32(buf, uint32(len(peers)))
	for _, peer := range peers {
		buf.Write(peer[:])
		d := m[peer]
		buf.Write(d[:])
	}
}

func writeSortedEvidence(buf *bytes.Buffer, m map[PeerID]Signature) {
	peers := sortedPeers(m)
	writeU32(buf, uint32(len(peers)))
	for _, peer := range peers {
		buf.Write(peer[:])
		s := m[peer]
		buf.Write(s[:])
	}
}

func writeLink(buf *bytes.Buffer, l Link) {
	buf.WriteByte(byte(l.Kind))
	switch l.Kind {
	case LinkToSelf:
	case LinkDirect:
		writeThrough(buf, l.Through)
	case LinkIndirect:
		writeThrough(buf, l.Through)
		buf.Write(l.To.Location.Author[:])
		writeU32(buf, uint32(l.To.Location.Round))
		buf.Write(l.To.Digest[:])
	}
}

func writeThrough(buf *bytes.Buffer, t Through) {
	if t.Includes {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(t.Peer[:])
}
