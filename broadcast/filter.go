// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcast gates inbound points before they reach the DAG
// (Filter) and answers peers' point-by-id queries about what this node
// already holds (Responder).
package broadcast

import (
	"sync"

	"github.com/luxfi/mempool/point"
)

// Decision is the outcome of filtering one inbound point.
type Decision int

const (
	// Dropped means the point is too old (below the retained DAG depth)
	// or too far in the future (beyond the cache window), or a duplicate
	// of a digest already seen within the dedup window.
	Dropped Decision = iota
	// Cached means the point's round is ahead of the DAG's current
	// round but within the cache window; it is held until Flush.
	Cached
	// Admitted means the point's round is already within reach of the
	// DAG and should be handed to the verifier immediately.
	Admitted
)

// Filter is the admission gate every inbound point passes through
// before the DAG sees it: it enforces the round window
// [current-dagDepth, current+cacheFutureRounds] and deduplicates
// digests already seen within dedupRounds of the current round.
type Filter struct {
	mu                sync.Mutex
	dagDepth          uint32
	cacheFutureRounds uint32
	dedupRounds       uint32

	cache map[point.Round][]*point.Point
	seen  map[point.Round]map[point.Digest]struct{}
}

// NewFilter returns a Filter with the given window parameters: the
// caller's DAG depth, mpconfig.NodeConfig's CacheFutureBroadcastsRounds,
// and mpconfig.ConsensusConfig's DeduplicateRounds.
func NewFilter(dagDepth, cacheFutureRounds, dedupRounds uint32) *Filter {
	return &Filter{
		dagDepth:          dagDepth,
		cacheFutureRounds: cacheFutureRounds,
		dedupRounds:       dedupRounds,
		cache:             make(map[point.Round][]*point.Point),
		seen:              make(map[point.Round]map[point.Digest]struct{}),
	}
}

// Admit classifies an inbound point against the DAG's current round,
// records its digest as seen (so a retransmission is dropped as a
// duplicate even if its round is otherwise admissible), and evicts
// dedup bookkeeping that has fallen outside the window.
func (f *Filter) Admit(p *point.Point, current point.Round) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	round := p.Body.Location.Round
	f.evictSeenLocked(current)

	if digests, ok := f.seen[round]; ok {
		if _, dup := digests[p.Digest]; dup {
			return Dropped
		}
	} else {
		f.seen[round] = make(map[point.Digest]struct{})
	}
	f.seen[round][p.Digest] = struct{}{}

	low, hasLow := safeSub(current, f.dagDepth)
	if hasLow && round < low {
		return Dropped
	}
	if round <= current {
		return Admitted
	}
	high := current + point.Round(f.cacheFutureRounds)
	if round > high {
		return Dropped
	}
	f.cache[round] = append(f.cache[round], p)
	return Cached
}

// Flush returns and clears every point cached at round, meant to be
// called once the DAG front actually extends to cover it.
func (f *Filter) Flush(round point.Round) []*point.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	pts := f.cache[round]
	delete(f.cache, round)
	return pts
}

func (f *Filter) evictSeenLocked(current point.Round) {
	low, hasLow := safeSub(current, f.dedupRounds)
	if !hasLow {
		return
	}
	for r := range f.seen {
		if r < low {
			delete(f.seen, r)
		}
	}
}

func safeSub(r point.Round, n uint32) (point.Round, bool) {
	if uint64(r) < uint64(n) {
		return 0, false
	}
	return point.Round(uint64(r) - uint64(n)), true
}
