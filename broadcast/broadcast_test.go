// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/store"
)

func newAuthor(t *testing.T) (point.PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var id point.PeerID
	copy(id[:], pub)
	return id, priv
}

func samplePoint(author point.PeerID, priv ed25519.PrivateKey, round point.Round) *point.Point {
	body := point.PointBody{
		Location:      point.Location{Round: round, Author: author},
		Time:          point.UnixTime(round),
		AnchorTime:    point.UnixTime(round),
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	return point.New(priv, body)
}

func TestFilterAdmitsWithinWindowAndDropsStaleOrFarFuture(t *testing.T) {
	author, priv := newAuthor(t)
	f := NewFilter(3, 2, 5)

	current := point.Round(10)
	p := samplePoint(author, priv, current)
	require.Equal(t, Admitted, f.Admit(p, current))

	stale := samplePoint(author, priv, current-4)
	require.Equal(t, Dropped, f.Admit(stale, current))

	future := samplePoint(author, priv, current+1)
	require.Equal(t, Cached, f.Admit(future, current))

	tooFarFuture := samplePoint(author, priv, current+3)
	require.Equal(t, Dropped, f.Admit(tooFarFuture, current))

	flushed := f.Flush(current + 1)
	require.Len(t, flushed, 1)
	require.Equal(t, future.Digest, flushed[0].Digest)
	require.Empty(t, f.Flush(current+1))
}

func TestFilterDropsDuplicateDigest(t *testing.T) {
	author, priv := newAuthor(t)
	f := NewFilter(3, 2, 5)
	current := point.Round(10)
	p := samplePoint(author, priv, current)

	require.Equal(t, Admitted, f.Admit(p, current))
	require.Equal(t, Dropped, f.Admit(p, current))
}

func TestResponderServesFromLiveFrontAndStore(t *testing.T) {
	genesisRound := point.BottomRound.Next()
	author, priv := newAuthor(t)
	peers := []point.PeerID{author}

	front := dag.NewFront()
	genesis := dag.NewRound(genesisRound, peers, priv)
	front.Seed(genesis)

	p := samplePoint(author, priv, genesisRound)
	verdict := point.TrustedPoint(point.ValidPoint{Point: p})
	loc, _ := genesis.Location(author)
	loc.InsertOwnPoint(p.Digest, verdict)

	mem := store.NewMemory()
	r := NewResponder(front, mem)

	resp := r.PointByID(p.ID())
	require.Equal(t, download.Defined, resp.Kind)
	require.Equal(t, p.Digest, resp.Point.Digest)

	// A round beyond the front's top must answer TryLater, not NotFound.
	beyond := point.PointID{Location: point.Location{Round: genesisRound.Next().Next(), Author: author}}
	resp = r.PointByID(beyond)
	require.Equal(t, download.TryLater, resp.Kind)

	// A round below the front (after SetBottom) falls back to the store.
	require.NoError(t, mem.Put(genesisRound, author, p.Digest, store.Info{Point: p, Status: point.Trusted}))
	front.SetBottom(genesisRound.Next())
	resp = r.PointByID(p.ID())
	require.Equal(t, download.Defined, resp.Kind)
	require.Equal(t, p.Digest, resp.Point.Digest)
}
