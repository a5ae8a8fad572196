// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag holds the per-(round,author) slot structure the engine
// validates and signs points into: DagLocation's shared, once-resolved
// version futures, InclusionState's at-most-once signing decision,
// DagRound's per-round peer map, DagFront's extendable window of
// rounds, and RoundWatch, the monotonic cross-component signalling
// primitive used to coordinate Consensus/Commit/TopKnownAnchor rounds.
package dag

import (
	"context"
	"sync"

	"github.com/luxfi/mempool/point"
)

// Future is a reference-counted, one-time-resolved computation of a
// DagPoint: many dependents may await the same digest's validation
// without triggering it twice. It is the Go analogue of the original's
// Shared<JoinTask<DagPoint>>.
type Future struct {
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	result point.DagPoint
	hooks  []func(point.DagPoint)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolved returns an already-completed Future, used for points this
// node produced itself and already knows the verdict of.
func resolved(p point.DagPoint) *Future {
	f := newFuture()
	f.complete(p)
	return f
}

func (f *Future) complete(p point.DagPoint) {
	f.once.Do(func() {
		f.mu.Lock()
		f.result = p
		hooks := f.hooks
		f.hooks = nil
		f.mu.Unlock()
		close(f.done)
		for _, h := range hooks {
			h(p)
		}
	})
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (point.DagPoint, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return point.DagPoint{}, ctx.Err()
	}
}

// Peek returns the resolved verdict and true if the future has already
// completed, without blocking.
func (f *Future) Peek() (point.DagPoint, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return point.DagPoint{}, false
	}
}

// OnComplete runs hook with the settled verdict, either immediately (if
// already resolved) or once resolution happens. Hooks run in the
// resolving goroutine, matching the original's `.inspect(...)` chained
// onto the validating future.
func (f *Future) OnComplete(hook func(point.DagPoint)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		hook(f.result)
		return
	default:
	}
	f.hooks = append(f.hooks, hook)
	f.mu.Unlock()
}
