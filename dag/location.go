// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"sync"

	"github.com/luxfi/mempool/point"
)

// Location is the per-(round,author) slot of the DAG: every version of
// a point seen at this location (equivocations tolerated) keyed by
// digest, plus the at-most-once InclusionState settled from whichever
// version completes validation first.
type Location struct {
	mu       sync.Mutex
	versions map[point.Digest]*Future
	order    []point.Digest
	state    *InclusionState
}

func newLocation() *Location {
	return &Location{
		versions: make(map[point.Digest]*Future),
		state:    newInclusionState(),
	}
}

// State returns the location's InclusionState.
func (l *Location) State() *InclusionState { return l.state }

// Versions returns a snapshot of every known version's Future, keyed
// by digest (equivocations tolerated). The snapshot is a map and
// carries no insertion or completion order.
func (l *Location) Versions() map[point.Digest]*Future {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[point.Digest]*Future, len(l.versions))
	for d, f := range l.versions {
		out[d] = f
	}
	return out
}

// InsertOwnPoint pre-populates the location with this node's own
// already-verdicted point and settles InclusionState as pre-signed.
// Panics if a version is already present for this digest: producing
// two distinct points at the same location is always a coding error.
func (l *Location) InsertOwnPoint(digest point.Digest, verdict point.DagPoint) {
	l.mu.Lock()
	if _, ok := l.versions[digest]; ok {
		l.mu.Unlock()
		panic("dag: own point is already inserted into DAG location")
	}
	l.versions[digest] = resolved(verdict)
	l.order = append(l.order, digest)
	l.mu.Unlock()

	l.state.insertOwnPoint(verdict)
}

// AddDependency returns the shared Future for digest, creating and
// starting it via init if this is the first request for this version.
// Used by the verifier when resolving includes/witness edges of a
// point under validation: idempotent, so concurrent dependents never
// duplicate the download/validate work. init (typically a download
// followed by recursive validation) runs after l.mu is released, so a
// blocking call inside it never holds the location lock.
func (l *Location) AddDependency(digest point.Digest, init func() point.DagPoint) *Future {
	l.mu.Lock()
	if f, ok := l.versions[digest]; ok {
		l.mu.Unlock()
		return f
	}
	f := newFuture()
	l.versions[digest] = f
	l.order = append(l.order, digest)
	l.mu.Unlock()

	go func() { f.complete(init()) }()
	return f
}

// AddValidate inserts a new version to be validated via init, and
// arranges for the location's InclusionState to be initialized with
// whichever version's Future resolves first. Returns ok=false without
// starting anything if digest was already present: validation happens
// at most once per version, whether it arrived as a direct broadcast or
// as someone else's dependency.
func (l *Location) AddValidate(digest point.Digest, init func() point.DagPoint) (*Future, bool) {
	l.mu.Lock()
	if _, ok := l.versions[digest]; ok {
		l.mu.Unlock()
		return nil, false
	}
	f := newFuture()
	l.versions[digest] = f
	l.order = append(l.order, digest)
	state := l.state
	l.mu.Unlock()

	f.OnComplete(state.Init)
	go func() { f.complete(init()) }()
	return f, true
}
