// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/point"
)

func newPeer(t *testing.T) (point.PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var id point.PeerID
	copy(id[:], pub)
	return id, priv
}

func trustedVerdict(author point.PeerID, round point.Round, priv ed25519.PrivateKey) (point.DagPoint, point.Digest) {
	body := point.PointBody{
		Location:      point.Location{Round: round, Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(priv, body)
	return point.TrustedPoint(point.ValidPoint{Point: p}), p.Digest
}

func TestLocationInsertOwnPointSettlesInclusion(t *testing.T) {
	author, priv := newPeer(t)
	verdict, digest := trustedVerdict(author, point.BottomRound.Next(), priv)

	loc := newLocation()
	loc.InsertOwnPoint(digest, verdict)

	require.Panics(t, func() { loc.InsertOwnPoint(digest, verdict) })

	signed, ok, ack := loc.State().Signed()
	require.True(t, ok)
	require.True(t, ack)
	require.Equal(t, point.BottomRound.Next(), signed.At)
}

func TestLocationAddValidateOnceWinsInclusion(t *testing.T) {
	author, priv := newPeer(t)
	verdictA, digestA := trustedVerdict(author, point.BottomRound.Next(), priv)
	verdictB, digestB := trustedVerdict(author, point.BottomRound.Next(), priv)

	loc := newLocation()
	firstDone := make(chan struct{})
	f1, ok := loc.AddValidate(digestA, func() point.DagPoint {
		<-firstDone
		return verdictA
	})
	require.True(t, ok)

	_, ok = loc.AddValidate(digestA, func() point.DagPoint { return verdictA })
	require.False(t, ok, "validating the same digest twice must be rejected")

	f2, ok := loc.AddValidate(digestB, func() point.DagPoint { return verdictB })
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f2.Wait(ctx)
	require.NoError(t, err)

	close(firstDone)
	_, err = f1.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		id, ok := loc.State().InitID()
		return ok && id.Digest == digestB
	}, time.Second, time.Millisecond, "the first version to *complete* wins, not the first inserted")
}

func TestInclusionStateSignSettlesWithinWindow(t *testing.T) {
	author, authorKey := newPeer(t)
	signer, signerKey := newPeer(t)
	body := point.PointBody{
		Location:      point.Location{Round: point.BottomRound.Next(), Author: author},
		Time:          100,
		AnchorTime:    100,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(authorKey, body)
	verdict := point.TrustedPoint(point.ValidPoint{Point: p})

	loc := newLocation()
	_, ok := loc.AddValidate(p.Digest, func() point.DagPoint { return verdict })
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, initialized := loc.State().First()
		return initialized
	}, time.Second, time.Millisecond)

	ok = loc.State().Sign(p.Body.Location.Round, signerKey, true, 50, 150)
	require.True(t, ok, "a point whose declared time falls inside [start, end] must settle signed")

	signed, settled, ack := loc.State().Signed()
	require.True(t, settled)
	require.True(t, ack)
	require.True(t, signed.With.Verifies(signer, p.Digest))

	// Idempotent: a second call never re-settles.
	require.False(t, loc.State().Sign(p.Body.Location.Round, signerKey, true, 50, 150))
}

func TestInclusionStateSignTooNewIsLeftUndecided(t *testing.T) {
	author, authorKey := newPeer(t)
	_, signerKey := newPeer(t)
	body := point.PointBody{
		Location:      point.Location{Round: point.BottomRound.Next(), Author: author},
		Time:          1000,
		AnchorTime:    1000,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(authorKey, body)
	verdict := point.TrustedPoint(point.ValidPoint{Point: p})

	loc := newLocation()
	_, ok := loc.AddValidate(p.Digest, func() point.DagPoint { return verdict })
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, initialized := loc.State().First()
		return initialized
	}, time.Second, time.Millisecond)

	require.False(t, loc.State().Sign(p.Body.Location.Round, signerKey, true, 0, 500))
	_, settled, _ := loc.State().Signed()
	require.False(t, settled, "a point ahead of the signing window must stay unsettled for a later call")

	require.True(t, loc.State().Sign(p.Body.Location.Round, signerKey, true, 0, 2000))
	_, settled, ack := loc.State().Signed()
	require.True(t, settled)
	require.True(t, ack)
}

func TestLocationAddDependencyDoesNotHoldLockDuringInit(t *testing.T) {
	author, priv := newPeer(t)
	verdict, digest := trustedVerdict(author, point.BottomRound.Next(), priv)

	loc := newLocation()
	blocking := make(chan struct{})
	started := make(chan struct{})
	fut := loc.AddDependency(digest, func() point.DagPoint {
		close(started)
		<-blocking
		return verdict
	})
	<-started

	// init is still running (blocked on <-blocking); the location must
	// not be held locked across it, or a second, unrelated digest could
	// never be registered concurrently.
	done := make(chan struct{})
	go func() {
		loc.AddDependency(point.Digest{1}, func() point.DagPoint { return verdict })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddDependency for an unrelated digest blocked: init is running under l.mu")
	}

	close(blocking)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := fut.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, point.Trusted, got.Kind())
}

func TestFrontFillAndSetBottom(t *testing.T) {
	author, priv := newPeer(t)
	genesis := NewRound(point.BottomRound.Next(), []point.PeerID{author}, priv)

	front := NewFront()
	front.Seed(genesis)
	front.FillToTop(genesis.RoundNumber()+5,
		func(point.Round) []point.PeerID { return []point.PeerID{author} },
		func(point.Round) (ed25519.PrivateKey, bool) { return priv, true },
	)

	top, ok := front.Top()
	require.True(t, ok)
	require.Equal(t, genesis.RoundNumber()+5, top.RoundNumber())
	require.Len(t, front.Snapshot(), 6)

	prevBottom, dropped := front.SetBottom(genesis.RoundNumber() + 3)
	require.True(t, dropped)
	require.Equal(t, genesis.RoundNumber(), prevBottom)
	bottom, ok := front.Bottom()
	require.True(t, ok)
	require.Equal(t, genesis.RoundNumber()+3, bottom.RoundNumber())
}

func TestRoundWatchSetMaxIsMonotonic(t *testing.T) {
	w := NewRoundWatch(point.BottomRound.Next())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	waited := make(chan point.Round, 1)
	go func() {
		r, err := w.Next(ctx)
		if err == nil {
			waited <- r
		}
	}()

	w.SetMax(point.BottomRound) // must not move backward
	require.Equal(t, point.BottomRound.Next(), w.Get())

	w.SetMax(point.BottomRound.Next().Next())
	require.Equal(t, point.BottomRound.Next().Next(), <-waited)
}
