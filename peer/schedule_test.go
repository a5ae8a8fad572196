// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/point"
)

func testPeer(b byte) point.PeerID {
	var id point.PeerID
	id[0] = b
	return id
}

func TestSetEpochAndPeersFor(t *testing.T) {
	s := NewSchedule()
	a, b, c := testPeer(1), testPeer(2), testPeer(3)

	s.SetEpoch([]point.PeerID{a, b}, point.Round(1), true)
	require.ElementsMatch(t, []point.PeerID{a, b}, s.PeersFor(point.Round(1)))
	require.ElementsMatch(t, []point.PeerID{a, b}, s.PeersFor(point.Round(5)))
	require.Empty(t, s.PeersFor(point.Round(0)))

	s.SetEpoch([]point.PeerID{a, b, c}, point.Round(10), true)
	require.ElementsMatch(t, []point.PeerID{a, b}, s.PeersFor(point.Round(9)))
	require.ElementsMatch(t, []point.PeerID{a, b, c}, s.PeersFor(point.Round(10)))
	require.ElementsMatch(t, []point.PeerID{a, b, c}, s.Current())
}

func TestPeerStateDefaultsUnknown(t *testing.T) {
	s := NewSchedule()
	a := testPeer(1)
	s.SetEpoch([]point.PeerID{a}, point.Round(1), true)
	require.Equal(t, Unknown, s.PeerState(a))
}

func TestSetPeerStatePublishesOnChange(t *testing.T) {
	s := NewSchedule()
	a := testPeer(1)
	s.SetEpoch([]point.PeerID{a}, point.Round(1), true)

	updates := s.Updates()
	s.SetPeerState(a, Resolved)

	select {
	case u := <-updates:
		require.Equal(t, a, u.Peer)
		require.Equal(t, Resolved, u.State)
	case <-time.After(time.Second):
		t.Fatal("expected an update")
	}

	// no-op transition must not publish again
	s.SetPeerState(a, Resolved)
	select {
	case u := <-updates:
		t.Fatalf("unexpected duplicate update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecordFailedQueries(t *testing.T) {
	s := NewSchedule()
	a := testPeer(1)
	require.Equal(t, 0, s.FailedQueries(a))
	require.Equal(t, 1, s.RecordFailedQuery(a))
	require.Equal(t, 2, s.RecordFailedQuery(a))
	require.Equal(t, 2, s.FailedQueries(a))
}

func TestMajorityOfOthers(t *testing.T) {
	require.Equal(t, 2, MajorityOfOthers(4))
	require.Equal(t, 4, MajorityOfOthers(7))
	require.Equal(t, 1, MajorityOfOthers(1))
	require.Equal(t, 1, MajorityOfOthers(0))
}
