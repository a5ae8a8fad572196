// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"context"
	"sync"

	"github.com/luxfi/mempool/point"
)

// RoundWatch is a monotonic watched cell over a Round: readers call Get
// for the current value or Next to block until it changes. Writers
// only ever move it forward via SetMax. It is the coordination
// primitive spec section 3 calls RoundWatch<T>; the engine instantiates
// it once each for Consensus, Commit and TopKnownAnchor rounds, and no
// instance tracks a collator round. The
// generation-counter-via-closed-channel idiom here is the same one
// Go's own context.Context uses to broadcast a value change to
// arbitrarily many waiters without a dedicated pub/sub dependency.
type RoundWatch struct {
	mu      sync.Mutex
	current point.Round
	changed chan struct{}
}

// NewRoundWatch returns a RoundWatch initialized to initial.
func NewRoundWatch(initial point.Round) *RoundWatch {
	return &RoundWatch{current: initial, changed: make(chan struct{})}
}

// Get returns the current value.
func (w *RoundWatch) Get() point.Round {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SetMax advances the watch to r if r is greater than the current
// value, waking every waiter blocked in Next. A no-op if r does not
// exceed the current value: the watch never moves backward.
func (w *RoundWatch) SetMax(r point.Round) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r <= w.current {
		return
	}
	w.current = r
	close(w.changed)
	w.changed = make(chan struct{})
}

// Next blocks until the watch's value changes, then returns it.
func (w *RoundWatch) Next(ctx context.Context) (point.Round, error) {
	w.mu.Lock()
	ch := w.changed
	w.mu.Unlock()

	select {
	case <-ch:
		return w.Get(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
