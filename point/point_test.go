// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package point

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAuthor(t *testing.T) (PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var id PeerID
	copy(id[:], pub)
	return id, priv
}

func genesisBody(author PeerID) PointBody {
	return PointBody{
		Location:      Location{Round: BottomRound.Next(), Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: ToSelfLink(),
		AnchorProof:   ToSelfLink(),
	}
}

func TestRoundArithmetic(t *testing.T) {
	require.Equal(t, Round(5), Round(4).Next())
	require.Equal(t, Round(3), Round(4).Prev())
	require.Panics(t, func() { BottomRound.Prev() })
	require.Panics(t, func() { Round(^uint32(0)).Next() })
}

func TestNewAndIntegrity(t *testing.T) {
	author, priv := newTestAuthor(t)
	p := New(priv, genesisBody(author))

	require.True(t, p.IsIntegrityOK())

	mutated := *p
	mutated.Body.Time++
	require.False(t, mutated.IsIntegrityOK())
}

func TestNewWrongAuthorPanics(t *testing.T) {
	author, _ := newTestAuthor(t)
	_, other := newTestAuthor(t)
	require.Panics(t, func() {
		New(other, genesisBody(author))
	})
}

func TestGenesisWellFormed(t *testing.T) {
	author, priv := newTestAuthor(t)
	genesisRound := BottomRound.Next()
	body := genesisBody(author)
	body.Location.Round = genesisRound
	p := New(priv, body)

	require.True(t, p.IsWellFormed(genesisRound))
}

func TestGenesisRejectsPayload(t *testing.T) {
	author, priv := newTestAuthor(t)
	genesisRound := BottomRound.Next()
	body := genesisBody(author)
	body.Location.Round = genesisRound
	body.Payload = [][]byte{[]byte("x")}
	p := New(priv, body)

	require.False(t, p.IsWellFormed(genesisRound))
}

func TestNonGenesisRequiresProofForToSelfAnchor(t *testing.T) {
	author, priv := newTestAuthor(t)
	genesisRound := BottomRound.Next()
	body := PointBody{
		Location:      Location{Round: genesisRound.Next(), Author: author},
		Time:          2,
		AnchorTime:    2,
		AnchorTrigger: ToSelfLink(),
		AnchorProof:   ToSelfLink(),
		Includes:      map[PeerID]Digest{},
	}
	p := New(priv, body)
	require.False(t, p.IsWellFormed(genesisRound))
}

func TestProofMustBeListedInIncludes(t *testing.T) {
	author, priv := newTestAuthor(t)
	genesisRound := BottomRound.Next()
	other, _ := newTestAuthor(t)

	body := PointBody{
		Location:      Location{Round: genesisRound.Next().Next(), Author: author},
		Time:          3,
		AnchorTime:    2,
		AnchorTrigger: DirectLink(Through{Includes: true, Peer: other}),
		AnchorProof:   DirectLink(Through{Includes: true, Peer: author}),
		Proof:         &PrevPoint{Digest: DigestOf([]byte("prev"))},
		Includes: map[PeerID]Digest{
			other: DigestOf([]byte("other-prev")),
		},
	}
	p := New(priv, body)
	require.False(t, p.IsWellFormed(genesisRound))
}

func TestDigestStability(t *testing.T) {
	author, priv := newTestAuthor(t)
	body := genesisBody(author)
	p1 := New(priv, body)
	p2 := New(priv, body)
	require.Equal(t, p1.Digest, p2.Digest)
	require.Equal(t, p1.ID(), p2.ID())
}

func TestVerdictSignability(t *testing.T) {
	require.True(t, Trusted.Signable())
	require.False(t, Suspicious.Signable())
	require.True(t, Trusted.QuorumCountable())
	require.True(t, Suspicious.QuorumCountable())
	require.False(t, Invalid.QuorumCountable())
	require.False(t, IllFormed.QuorumCountable())
	require.False(t, NotFound.QuorumCountable())
}

func TestDagPointValid(t *testing.T) {
	author, priv := newTestAuthor(t)
	p := New(priv, genesisBody(author))
	vp := ValidPoint{Point: p}

	trusted := TrustedPoint(vp)
	got, ok := trusted.Valid()
	require.True(t, ok)
	require.Equal(t, p, got.Point)
	require.True(t, trusted.Signable())

	suspicious := SuspiciousPoint(vp)
	require.True(t, suspicious.QuorumCountable())
	require.False(t, suspicious.Signable())

	_, ok = InvalidPoint().Valid()
	require.False(t, ok)
}

func TestPrevID(t *testing.T) {
	author, priv := newTestAuthor(t)
	body := genesisBody(author)
	p := New(priv, body)
	_, ok := p.PrevID()
	require.False(t, ok)

	body.Proof = &PrevPoint{Digest: DigestOf([]byte("x"))}
	body.Includes = map[PeerID]Digest{author: body.Proof.Digest}
	p2 := New(priv, body)
	prevID, ok := p2.PrevID()
	require.True(t, ok)
	require.Equal(t, body.Location.Round.Prev(), prevID.Location.Round)
	require.Equal(t, author, prevID.Location.Author)
}
