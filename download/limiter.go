// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package download fetches points this node is missing, from peers,
// under bounded concurrency and a Byzantine-aware quorum rule: a point
// is only ever declared NotFound once a majority of the validator set
// (excluding this node) has reliably denied holding it.
package download

import (
	"context"
	"sync"

	"github.com/luxfi/mempool/point"
)

// limiter is the process-wide download concurrency gate: at most
// Concurrent download tasks run at once; beyond that, tasks queue by
// round. Waking order is round-keyed LIFO (the newest round's waiter
// wakes first) and FIFO within a round, so a node catching up after a
// partition heal does not starve the front of consensus behind a queue
// of stale, already-irrelevant old-round downloads.
type limiter struct {
	mu         sync.Mutex
	running    int
	concurrent int
	waiters    map[point.Round][]chan struct{}
}

func newLimiter(concurrent int) *limiter {
	if concurrent < 1 {
		concurrent = 1
	}
	return &limiter{concurrent: concurrent, waiters: make(map[point.Round][]chan struct{})}
}

// enter blocks until a download slot is available for round, or ctx is
// cancelled.
func (l *limiter) enter(ctx context.Context, round point.Round) error {
	l.mu.Lock()
	if l.running < l.concurrent {
		l.running++
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters[round] = append(l.waiters[round], ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if l.dequeue(round, ch) {
			return ctx.Err()
		}
		// exit() already claimed this waiter and handed it the slot
		// concurrently with ctx cancelling; give the slot back rather
		// than leaking it, since this call is abandoning it.
		l.exit()
		return ctx.Err()
	}
}

// dequeue removes ch from round's waiter queue if it is still there,
// reporting whether it found and removed it.
func (l *limiter) dequeue(round point.Round, ch chan struct{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.waiters[round]
	for i, c := range q {
		if c == ch {
			q = append(q[:i], q[i+1:]...)
			if len(q) == 0 {
				delete(l.waiters, round)
			} else {
				l.waiters[round] = q
			}
			return true
		}
	}
	return false
}

// exit releases a download slot, waking the waiter from the highest
// round with any queued, and the longest-queued within that round.
func (l *limiter) exit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var top point.Round
	found := false
	for r := range l.waiters {
		if !found || r > top {
			top = r
			found = true
		}
	}
	if !found {
		l.running--
		return
	}
	q := l.waiters[top]
	ch := q[0]
	if len(q) == 1 {
		delete(l.waiters, top)
	} else {
		l.waiters[top] = q[1:]
	}
	close(ch)
}
