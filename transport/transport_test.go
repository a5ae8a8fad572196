// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
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

func TestTransportBroadcastDeliversToPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aID, aPriv := newAuthor(t)
	bID, _ := newAuthor(t)

	a := NewTransport(ctx, aID, peer.NewSchedule(), 29101, nil)
	b := NewTransport(ctx, bID, peer.NewSchedule(), 29201, nil)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Stop()
	defer b.Stop()

	var mu sync.Mutex
	var received *point.Point
	b.OnPoint(func(p *point.Point) {
		mu.Lock()
		received = p
		mu.Unlock()
	})

	require.NoError(t, b.ConnectPeer(aID, "127.0.0.1", 29101))
	// Give the SUB socket's connection handshake time to settle before publishing.
	time.Sleep(200 * time.Millisecond)

	p := samplePoint(aID, aPriv, point.BottomRound.Next())
	require.NoError(t, a.Broadcast(p))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, p.Digest, received.Digest)
}

func TestTransportQueryRoundTrips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aID, aPriv := newAuthor(t)
	bID, _ := newAuthor(t)

	a := NewTransport(ctx, aID, peer.NewSchedule(), 29301, nil)
	b := NewTransport(ctx, bID, peer.NewSchedule(), 29401, nil)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Stop()
	defer b.Stop()

	want := samplePoint(aID, aPriv, point.BottomRound.Next())
	b.OnQuery(func(id point.PointID) download.Response {
		if id.Digest != want.Digest {
			return download.Response{Kind: download.Defined, Point: nil}
		}
		return download.Response{Kind: download.Defined, Point: want}
	})

	require.NoError(t, a.ConnectPeer(bID, "127.0.0.1", 29401))
	time.Sleep(200 * time.Millisecond)

	qctx, qcancel := context.WithTimeout(ctx, 5*time.Second)
	defer qcancel()
	resp, err := a.Query(qctx, bID, want.ID())
	require.NoError(t, err)
	require.Equal(t, download.Defined, resp.Kind)
	require.NotNil(t, resp.Point)
	require.Equal(t, want.Digest, resp.Point.Digest)
}
