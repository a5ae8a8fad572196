// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/luxfi/mempool/point"
)

// EncodePoint and DecodePoint give the wire format for a point.Point,
// the same explicit fixed-layout encoding store.codec.go uses for
// persistence — duplicated rather than shared, since the two contexts
// (disk record vs network frame) are free to diverge independently and
// neither should import the other's package for a detail this small.
func EncodePoint(p *point.Point) []byte {
	var buf bytes.Buffer
	writeDigest(&buf, p.Digest)
	writeSignature(&buf, p.Signature)
	encodeBody(&buf, p.Body)
	return buf.Bytes()
}

func DecodePoint(b []byte) (*point.Point, error) {
	r := bytes.NewReader(b)
	digest, err := readDigest(r)
	if err != nil {
		return nil, err
	}
	sig, err := readSignature(r)
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(r)
	if err != nil {
		return nil, err
	}
	return &point.Point{Body: body, Digest: digest, Signature: sig}, nil
}

func encodeBody(buf *bytes.Buffer, b point.PointBody) {
	buf.Write(b.Location.Author[:])
	writeU32(buf, uint32(b.Location.Round))
	writeU64(buf, uint64(b.Time))
	writeU64(buf, uint64(b.AnchorTime))

	writeU32(buf, uint32(len(b.Payload)))
	for _, chunk := range b.Payload {
		writeU32(buf, uint32(len(chunk)))
		buf.Write(chunk)
	}

	if b.Proof != nil {
		buf.WriteByte(1)
		writeDigest(buf, b.Proof.Digest)
		writeU32(buf, uint32(len(b.Proof.Evidence)))
		for peer, sig := range b.Proof.Evidence {
			buf.Write(peer[:])
			writeSignature(buf, sig)
		}
	} else {
		buf.WriteByte(0)
	}

	writeU32(buf, uint32(len(b.Includes)))
	for peer, d := range b.Includes {
		buf.Write(peer[:])
		writeDigest(buf, d)
	}
	writeU32(buf, uint32(len(b.Witness)))
	for peer, d := range b.Witness {
		buf.Write(peer[:])
		writeDigest(buf, d)
	}

	writeLink(buf, b.AnchorTrigger)
	writeLink(buf, b.AnchorProof)
}

func decodeBody(r *bytes.Reader) (point.PointBody, error) {
	var b point.PointBody

	author, err := readPeer(r)
	if err != nil {
		return b, err
	}
	b.Location.Author = author
	round, err := readU32(r)
	if err != nil {
		return b, err
	}
	b.Location.Round = point.Round(round)

	t, err := readU64(r)
	if err != nil {
		return b, err
	}
	b.Time = point.UnixTime(t)
	at, err := readU64(r)
	if err != nil {
		return b, err
	}
	b.AnchorTime = point.UnixTime(at)

	n, err := readU32(r)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < n; i++ {
		ln, err := readU32(r)
		if err != nil {
			return b, err
		}
		chunk := make([]byte, ln)
		if _, err := r.Read(chunk); err != nil {
			return b, err
		}
		b.Payload = append(b.Payload, chunk)
	}

	hasProof, err := r.ReadByte()
	if err != nil {
		return b, err
	}
	if hasProof == 1 {
		digest, err := readDigest(r)
		if err != nil {
			return b, err
		}
		evN, err := readU32(r)
		if err != nil {
			return b, err
		}
		evidence := make(map[point.PeerID]point.Signature, evN)
		for i := uint32(0); i < evN; i++ {
			peer, err := readPeer(r)
			if err != nil {
				return b, err
			}
			sig, err := readSignature(r)
			if err != nil {
				return b, err
			}
			evidence[peer] = sig
		}
		b.Proof = &point.PrevPoint{Digest: digest, Evidence: evidence}
	}

	inclN, err := readU32(r)
	if err != nil {
		return b, err
	}
	if inclN > 0 {
		b.Includes = make(map[point.PeerID]point.Digest, inclN)
		for i := uint32(0); i < inclN; i++ {
			peer, err := readPeer(r)
			if err != nil {
				return b, err
			}
			d, err := readDigest(r)
			if err != nil {
				return b, err
			}
			b.Includes[peer] = d
		}
	}

	witN, err := readU32(r)
	if err != nil {
		return b, err
	}
	if witN > 0 {
		b.Witness = make(map[point.PeerID]point.Digest, witN)
		for i := uint32(0); i < witN; i++ {
			peer, err := readPeer(r)
			if err != nil {
				return b, err
			}
			d, err := readDigest(r)
			if err != nil {
				return b, err
			}
			b.Witness[peer] = d
		}
	}

	b.AnchorTrigger, err = readLink(r)
	if err != nil {
		return b, err
	}
	b.AnchorProof, err = readLink(r)
	if err != nil {
		return b, err
	}
	return b, nil
}

func writeLink(buf *bytes.Buffer, l point.Link) {
	buf.WriteByte(byte(l.Kind))
	switch l.Kind {
	case point.LinkToSelf:
	case point.LinkDirect:
		writeThrough(buf, l.Through)
	case point.LinkIndirect:
		writeThrough(buf, l.Through)
		buf.Write(l.To.Location.Author[:])
		writeU32(buf, uint32(l.To.Location.Round))
		writeDigest(buf, l.To.Digest)
	}
}

func readLink(r *bytes.Reader) (point.Link, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return point.Link{}, err
	}
	kind := point.LinkKind(kindByte)
	switch kind {
	case point.LinkToSelf:
		return point.ToSelfLink(), nil
	case point.LinkDirect:
		through, err := readThrough(r)
		if err != nil {
			return point.Link{}, err
		}
		return point.DirectLink(through), nil
	case point.LinkIndirect:
		through, err := readThrough(r)
		if err != nil {
			return point.Link{}, err
		}
		author, err := readPeer(r)
		if err != nil {
			return point.Link{}, err
		}
		round, err := readU32(r)
		if err != nil {
			return point.Link{}, err
		}
		digest, err := readDigest(r)
		if err != nil {
			return point.Link{}, err
		}
		to := point.PointID{Location: point.Location{Round: point.Round(round), Author: author}, Digest: digest}
		return point.IndirectLink(through, to), nil
	default:
		return point.Link{}, fmt.Errorf("transport: unknown link kind %d", kindByte)
	}
}

func writeThrough(buf *bytes.Buffer, t point.Through) {
	if t.Includes {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(t.Peer[:])
}

func readThrough(r *bytes.Reader) (point.Through, error) {
	b, err := r.ReadByte()
	if err != nil {
		return point.Through{}, err
	}
	peer, err := readPeer(r)
	if err != nil {
		return point.Through{}, err
	}
	return point.Through{Includes: b == 1, Peer: peer}, nil
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

func writeDigest(buf *bytes.Buffer, d point.Digest) { buf.Write(d[:]) }

func writeSignature(buf *bytes.Buffer, s point.Signature) { buf.Write(s[:]) }

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readDigest(r *bytes.Reader) (point.Digest, error) {
	var d point.Digest
	if _, err := r.Read(d[:]); err != nil {
		return d, err
	}
	return d, nil
}

func readSignature(r *bytes.Reader) (point.Signature, error) {
	var s point.Signature
	if _, err := r.Read(s[:]); err != nil {
		return s, err
	}
	return s, nil
}

func readPeer(r *bytes.Reader) (point.PeerID, error) {
	var p point.PeerID
	if _, err := r.Read(p[:]); err != nil {
		return p, err
	}
	return p, nil
}
