// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commit

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/point"
)

func newValidator(t *testing.T) (point.PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var id point.PeerID
	copy(id[:], pub)
	return id, priv
}

// seatSelf inserts a trusted, self-signed own point at round for
// author, wired with the given includes/witness edges.
func seatSelf(rnd *dag.Round, author point.PeerID, priv ed25519.PrivateKey, includes, witness map[point.PeerID]point.Digest, anchorProof point.Link) *point.Point {
	body := point.PointBody{
		Location:      point.Location{Round: rnd.RoundNumber(), Author: author},
		Time:          point.UnixTime(rnd.RoundNumber()),
		AnchorTime:    point.UnixTime(rnd.RoundNumber()),
		Includes:      includes,
		Witness:       witness,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   anchorProof,
	}
	p := point.New(priv, body)
	verdict := point.TrustedPoint(point.ValidPoint{Point: p})
	loc, _ := rnd.Location(author)
	loc.InsertOwnPoint(p.Digest, verdict)
	return p
}

func TestCommitterCommitsSelfAnchorAfterCertificationDepth(t *testing.T) {
	genesisRound := point.BottomRound.Next()
	a1, k1 := newValidator(t)
	a2, k2 := newValidator(t)
	peers := []point.PeerID{a1, a2}

	front := dag.NewFront()
	genesis := dag.NewRound(genesisRound, peers, k1)
	front.Seed(genesis)

	peersFor := func(point.Round) []point.PeerID { return peers }
	keyFor1 := func(point.Round) (ed25519.PrivateKey, bool) { return k1, true }
	front.FillToTop(genesisRound+3, peersFor, keyFor1)

	anchorRound, ok := front.Round(genesisRound.Next())
	require.True(t, ok)

	// Both validators post a point with no includes; whichever the
	// deterministic leader function selects becomes the anchor round's
	// leader and must carry anchor_proof = ToSelf to be committed.
	includes := map[point.PeerID]point.Digest{}
	_ = seatSelf(anchorRound, a1, k1, includes, nil, point.ToSelfLink())
	_ = seatSelf(anchorRound, a2, k2, includes, nil, point.ToSelfLink())

	c := NewCommitter(front, 2)
	res := c.Commit()
	require.Len(t, res.Anchors, 1)
	require.Equal(t, anchorRound.RoundNumber(), res.Anchors[0].Anchor.Round)
	require.False(t, res.HasGap)

	// A second call with nothing new ready must not re-emit.
	res2 := c.Commit()
	require.Empty(t, res2.Anchors)
}

func TestCommitterWithholdsAnchorBeforeCertificationDepth(t *testing.T) {
	genesisRound := point.BottomRound.Next()
	a1, k1 := newValidator(t)
	peers := []point.PeerID{a1}

	front := dag.NewFront()
	genesis := dag.NewRound(genesisRound, peers, k1)
	front.Seed(genesis)
	peersFor := func(point.Round) []point.PeerID { return peers }
	keyFor := func(point.Round) (ed25519.PrivateKey, bool) { return k1, true }
	front.FillToTop(genesisRound.Next(), peersFor, keyFor)

	anchorRound, ok := front.Round(genesisRound.Next())
	require.True(t, ok)
	_ = seatSelf(anchorRound, a1, k1, nil, nil, point.ToSelfLink())

	c := NewCommitter(front, 5) // deeper than the front currently reaches
	res := c.Commit()
	require.Empty(t, res.Anchors)
}
