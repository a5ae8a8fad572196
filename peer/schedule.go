// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peer tracks the authoritative validator set per round and
// the resolved/unknown connectivity state of each validator, and
// broadcasts changes to components (chiefly the downloader) that need
// to react to peers coming online.
package peer

import (
	"sort"
	"sync"

	"github.com/luxfi/mempool/point"
)

// State describes whether this node currently has a usable connection
// to a peer.
type State uint8

const (
	// Unknown means no connection attempt has succeeded yet.
	Unknown State = iota
	// Resolved means the peer is reachable and queries may be sent to it.
	Resolved
)

func (s State) String() string {
	if s == Resolved {
		return "Resolved"
	}
	return "Unknown"
}

// Update describes a single peer's state transition, delivered to
// every subscriber registered via Schedule.Updates.
type Update struct {
	Peer  point.PeerID
	State State
}

// epoch is one registered validator set, effective starting at a round.
type epoch struct {
	fromRound point.Round
	isCurrent bool
	peers     []point.PeerID
}

// Schedule is the authoritative source of which peers are validators at
// a given round, and the connectivity state of each. It tolerates a
// single round of overlap between the current and next epoch: once a
// point has been admitted at a round, the epoch active there is
// immutable.
type Schedule struct {
	mu     sync.RWMutex
	epochs []epoch
	states map[point.PeerID]State
	failed map[point.PeerID]int

	subsMu sync.Mutex
	subs   []chan Update
}

// NewSchedule returns an empty Schedule. Peer sets must be registered
// via SetEpoch before PeersFor returns anything.
func NewSchedule() *Schedule {
	return &Schedule{
		states: make(map[point.PeerID]State),
		failed: make(map[point.PeerID]int),
	}
}

// SetEpoch atomically registers a new peer set effective starting at
// fromRound. isCurrent marks the epoch the engine should broadcast and
// produce points against right now; at most one epoch is current.
func (s *Schedule) SetEpoch(peers []point.PeerID, fromRound point.Round, isCurrent bool) {
	cp := make([]point.PeerID, len(peers))
	copy(cp, peers)
	sort.Slice(cp, func(i, j int) bool {
		return lessPeer(cp[i], cp[j])
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if isCurrent {
		for i := range s.epochs {
			s.epochs[i].isCurrent = false
		}
	}
	s.epochs = append(s.epochs, epoch{fromRound: fromRound, isCurrent: isCurrent, peers: cp})
	sort.Slice(s.epochs, func(i, j int) bool { return s.epochs[i].fromRound < s.epochs[j].fromRound })

	for _, p := range cp {
		if _, ok := s.states[p]; !ok {
			s.states[p] = Unknown
		}
	}
}

// PeersFor returns the validator set active at round. It is the last
// registered epoch whose fromRound is <= round.
func (s *Schedule) PeersFor(round point.Round) []point.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *epoch
	for i := range s.epochs {
		if s.epochs[i].fromRound > round {
			break
		}
		active = &s.epochs[i]
	}
	if active == nil {
		return nil
	}
	out := make([]point.PeerID, len(active.peers))
	copy(out, active.peers)
	return out
}

// Current returns the peer set of whichever epoch is marked current.
func (s *Schedule) Current() []point.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.epochs) - 1; i >= 0; i-- {
		if s.epochs[i].isCurrent {
			out := make([]point.PeerID, len(s.epochs[i].peers))
			copy(out, s.epochs[i].peers)
			return out
		}
	}
	return nil
}

// PeerState returns the known connectivity state of id.
func (s *Schedule) PeerState(id point.PeerID) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id]
}

// SetPeerState updates id's connectivity state and notifies subscribers
// if the state actually changed.
func (s *Schedule) SetPeerState(id point.PeerID, state State) {
	s.mu.Lock()
	prev, ok := s.states[id]
	s.states[id] = state
	s.mu.Unlock()

	if ok && prev == state {
		return
	}
	s.publish(Update{Peer: id, State: state})
}

// RecordFailedQuery increments id's failure counter, used by the
// downloader to bias peer selection away from repeatedly failing peers.
func (s *Schedule) RecordFailedQuery(id point.PeerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id]++
	return s.failed[id]
}

// FailedQueries returns id's current failure count.
func (s *Schedule) FailedQueries(id point.PeerID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failed[id]
}

// Updates registers a channel that receives every subsequent peer state
// change. The channel is buffered; a subscriber that falls behind stops
// receiving new updates rather than blocking the publisher — matching
// the teacher's "read-mostly snapshot + broadcast channel" shared
// resource model, where downloader tasks are expected to re-derive
// state from PeerState/PeersFor if they miss an update.
func (s *Schedule) Updates() <-chan Update {
	ch := make(chan Update, 64)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Schedule) publish(u Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// MajorityOfOthers returns the smallest count of distinct peer
// responses (excluding this node) that constitutes a majority among
// peerCount total validators, i.e. floor(peerCount/2)+1 applied to the
// peer set excluding self.
func MajorityOfOthers(peerCount int) int {
	others := peerCount - 1
	if others < 0 {
		others = 0
	}
	return others/2 + 1
}

func lessPeer(a, b point.PeerID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
