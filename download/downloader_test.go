// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package download

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func trustedPoint(priv ed25519.PrivateKey, author point.PeerID, round point.Round) *point.Point {
	body := point.PointBody{
		Location:      point.Location{Round: round, Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	return point.New(priv, body)
}

// fakeDispatcher answers every query with a canned per-peer response
// (Defined with no point by default, or an error if one is set for the
// peer) and counts queries per peer.
type fakeDispatcher struct {
	mu        sync.Mutex
	responses map[point.PeerID]Response
	errs      map[point.PeerID]error
	queries   map[point.PeerID]int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		responses: make(map[point.PeerID]Response),
		errs:      make(map[point.PeerID]error),
		queries:   make(map[point.PeerID]int),
	}
}

func (f *fakeDispatcher) Query(_ context.Context, p point.PeerID, _ point.PointID) (Response, error) {
	f.mu.Lock()
	f.queries[p]++
	resp, hasResp := f.responses[p]
	err, hasErr := f.errs[p]
	f.mu.Unlock()
	if hasErr {
		return Response{}, err
	}
	if hasResp {
		return resp, nil
	}
	return Response{Kind: Defined, Point: nil}, nil
}

func schedule2(t *testing.T, round point.Round) (*peer.Schedule, point.PeerID, ed25519.PrivateKey, point.PeerID) {
	t.Helper()
	a1, k1 := newAuthor(t)
	a2, _ := newAuthor(t)
	s := peer.NewSchedule()
	s.SetEpoch([]point.PeerID{a1, a2}, round, true)
	s.SetPeerState(a1, peer.Resolved)
	s.SetPeerState(a2, peer.Resolved)
	return s, a1, k1, a2
}

func TestDownloadReturnsVerifiedPoint(t *testing.T) {
	genesisRound := point.BottomRound.Next()
	round := genesisRound
	s, author, authorPriv, other := schedule2(t, round)
	want := trustedPoint(authorPriv, author, round)

	disp := newFakeDispatcher()
	// With two peers a single reliable denial already reaches the
	// majority-of-others threshold, so the author answers TryLater
	// rather than the default Defined(nil).
	disp.responses[author] = Response{Kind: TryLater}
	disp.responses[other] = Response{Kind: Defined, Point: want}

	d := NewDownloader(disp, s, genesisRound, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := d.Download(ctx, want.ID(), author)
	require.NoError(t, err)
	require.Equal(t, want.Digest, got.Digest)
}

func TestDownloadReturnsNotFoundOnQuorumDenial(t *testing.T) {
	genesisRound := point.BottomRound.Next()
	round := genesisRound
	s, author, _, _ := schedule2(t, round)

	disp := newFakeDispatcher() // default: everyone answers Defined(nil)
	d := NewDownloader(disp, s, genesisRound, 4)

	id := point.PointID{Location: point.Location{Round: round, Author: author}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := d.Download(ctx, id, author)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLimiterOrdersWaitersByRoundThenFIFO(t *testing.T) {
	l := newLimiter(1)
	ctx := context.Background()

	require.NoError(t, l.enter(ctx, point.Round(1))) // takes the only slot

	done := make(chan point.Round, 2)
	release := make(chan struct{})
	go func() {
		require.NoError(t, l.enter(ctx, point.Round(1)))
		<-release
		done <- point.Round(1)
		l.exit()
	}()
	time.Sleep(20 * time.Millisecond) // ensure round-1 waiter is queued first

	go func() {
		require.NoError(t, l.enter(ctx, point.Round(5)))
		done <- point.Round(5)
		l.exit()
	}()
	time.Sleep(20 * time.Millisecond) // ensure round-5 waiter is queued second

	l.exit() // releases the initial holder's slot; round 5 must wake, not round 1
	require.Equal(t, point.Round(5), <-done)

	close(release)
	require.Equal(t, point.Round(1), <-done)
}
