// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"crypto/ed25519"
	"sync"

	"github.com/luxfi/mempool/point"
)

// Front is a contiguous, growable-and-shrinkable window of DagRounds:
// [bottom ... top], with top.round always >= the engine's current
// consensus round. The engine owns one Front for live validation; the
// commit task owns a separately extended view (via ExtendFromAhead)
// so the two never contend on the same mutable state, only exchanging
// already-built, immutable *Round slices.
type Front struct {
	mu     sync.RWMutex
	rounds []*Round // ascending by round number
}

// NewFront returns an empty Front. Seed must be called once with the
// genesis round before FillToTop does anything useful.
func NewFront() *Front {
	return &Front{}
}

// Seed resets the front to contain exactly one round: the starting
// point every extension builds forward from (genesis on a fresh chain,
// or the bottom round restored from storage after a restart).
func (f *Front) Seed(r *Round) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds = []*Round{r}
}

// Top returns the highest round currently in the front.
func (f *Front) Top() (*Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return nil, false
	}
	return f.rounds[len(f.rounds)-1], true
}

// Bottom returns the lowest round currently in the front.
func (f *Front) Bottom() (*Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return nil, false
	}
	return f.rounds[0], true
}

// Round returns the front's slice for round r, if it is within
// [bottom, top].
func (f *Front) Round(r point.Round) (*Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, rnd := range f.rounds {
		if rnd.round == r {
			return rnd, true
		}
	}
	return nil, false
}

// Snapshot returns every round currently in the front, ascending.
func (f *Front) Snapshot() []*Round {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Round(nil), f.rounds...)
}

// PeersFor resolves the validator set active at a round; KeyFor
// resolves this node's key pair at a round, if it is seated there.
// FillToTop takes them as parameters rather than holding a live
// Schedule reference so Front never needs to know about peer.Schedule
// directly.
type PeersFor func(point.Round) []point.PeerID
type KeyFor func(point.Round) (ed25519.PrivateKey, bool)

// FillToTop extends the front upward, creating one new Round per step
// up to and including target, each pre-populated with the peer set
// active at its round. A no-op if the front is already at or above
// target.
func (f *Front) FillToTop(target point.Round, peersFor PeersFor, keyFor KeyFor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rounds) == 0 {
		return
	}
	top := f.rounds[len(f.rounds)-1]
	for top.round < target {
		next := top.round.Next()
		peers := peersFor(next)
		kp, _ := keyFor(next)
		top = NewRound(next, peers, kp)
		f.rounds = append(f.rounds, top)
	}
}

// SetBottom discards every round below newBottom. Returns the previous
// bottom round and true if the front actually had to drop anything.
// The committer calls it after each commit that emits anchors and does
// not use the returned values.
func (f *Front) SetBottom(newBottom point.Round) (point.Round, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rounds) == 0 {
		return 0, false
	}
	prevBottom := f.rounds[0].round
	i := 0
	for i < len(f.rounds) && f.rounds[i].round < newBottom {
		i++
	}
	if i == 0 {
		return prevBottom, false
	}
	f.rounds = f.rounds[i:]
	return prevBottom, true
}

// ExtendFromAhead splices additional rounds onto the top of the front,
// used by the commit task to absorb round slices the engine has built
// since the task's own view last ran, without sharing mutable state:
// rnds must already be built (e.g. via FillToTop on the engine's own
// Front) and are simply appended if they extend beyond the current top.
func (f *Front) ExtendFromAhead(rnds []*Round) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rnd := range rnds {
		if len(f.rounds) > 0 && rnd.round <= f.rounds[len(f.rounds)-1].round {
			continue
		}
		f.rounds = append(f.rounds, rnd)
	}
}
