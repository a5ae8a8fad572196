// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"crypto/ed25519"
	"sync"

	"github.com/luxfi/mempool/point"
)

// Signed is the outcome of a settled signing decision: the round it was
// signed at (the location's own round, or the round that incorporated
// it as a dependency) and the signature produced.
type Signed struct {
	At   point.Round
	With point.Signature
}

// InclusionState is the at-most-once-settled signing decision for one
// DAG location: it remembers the first version to finish validating
// (equivocated versions arriving later never override it) and whether
// that version was ultimately signed or rejected. Transitions happen
// at most twice: Init/insertOwnPoint populates first_completed, then
// Sign/Reject settles signed exactly once.
type InclusionState struct {
	mu          sync.Mutex
	initialized bool
	first       point.DagPoint

	settled  bool
	rejected bool
	signed   Signed
}

func newInclusionState() *InclusionState {
	return &InclusionState{}
}

func signable(p point.DagPoint) bool {
	return p.Kind() == point.Trusted
}

// Init installs p as the location's first-completed version if none is
// set yet; called from the validation task's completion hook, so
// whichever equivocated version finishes validating first wins.
// Non-signable verdicts (Suspicious, Invalid, IllFormed, NotFound)
// settle the location as rejected immediately, since they can never
// become the signable candidate.
func (s *InclusionState) Init(p point.DagPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return
	}
	s.initialized = true
	s.first = p
	if !signable(p) {
		s.settled = true
		s.rejected = true
	}
}

// insertOwnPoint pre-populates the state for a point this node produced
// itself: it is always signable by construction, so it settles
// immediately with this node's own signature over it.
func (s *InclusionState) insertOwnPoint(p point.DagPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		panic("dag: own point initialized for inclusion twice")
	}
	if !signable(p) {
		panic("dag: own point is not signable")
	}
	valid, _ := p.Valid()
	s.initialized = true
	s.first = p
	s.settled = true
	s.rejected = false
	s.signed = Signed{At: valid.Point.Body.Location.Round, With: valid.Point.Signature}
}

// IsEmpty reports whether no version has completed validation yet.
func (s *InclusionState) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.initialized
}

// First returns the first-completed verdict regardless of whether it
// has since settled signed or rejected, and whether one exists yet.
// The collector uses this to count quorum: a Suspicious point that
// this node will never sign still counts toward includes/witness
// quorum once its version has completed validation.
func (s *InclusionState) First() (point.DagPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first, s.initialized
}

// Signable returns the first-completed verdict and true iff it has
// settled (a version finished validating) but not yet been signed or
// rejected — the window in which the engine's own-point task may still
// call Sign.
func (s *InclusionState) Signable() (point.DagPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.settled {
		return point.DagPoint{}, false
	}
	return s.first, true
}

// Signed reports the settled decision: ok is true once a decision has
// been reached at all, ack is true iff that decision was to sign
// (false means Reject).
func (s *InclusionState) Signed() (signed Signed, ok bool, ack bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settled {
		return Signed{}, false, false
	}
	return s.signed, true, !s.rejected
}

// SignedPoint returns the ValidPoint this location settled to sign, iff
// it was signed (not rejected) at exactly round at.
func (s *InclusionState) SignedPoint(at point.Round) (point.ValidPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settled || s.rejected || s.signed.At != at {
		return point.ValidPoint{}, false
	}
	return s.first.Valid()
}

// InitID returns the identifier of the first-completed version, for
// logging only.
func (s *InclusionState) InitID() (point.PointID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return point.PointID{}, false
	}
	if v, ok := s.first.Valid(); ok {
		return v.Point.ID(), true
	}
	return point.PointID{}, false
}

// Sign attempts to settle the location as signed, using priv (the
// key pair valid at round `at`; hasKeys is false if this node is not a
// validator there) provided the first-completed point's declared time
// falls within [start, end]. A point older than start is rejected
// outright; one newer than end is left undecided for a later call, once
// local time catches up. Idempotent: returns true only for the call
// that settles the location as signed; a call that rejects it, leaves
// it undecided, or finds it already settled returns false.
func (s *InclusionState) Sign(at point.Round, priv ed25519.PrivateKey, hasKeys bool, start, end point.UnixTime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return false
	}
	if !s.initialized || !hasKeys || !signable(s.first) {
		s.settled = true
		s.rejected = true
		return false
	}
	valid, _ := s.first.Valid()
	t := valid.Point.Body.Time
	if t < start {
		s.settled = true
		s.rejected = true
		return false
	}
	if t > end {
		return false
	}
	s.settled = true
	s.rejected = false
	s.signed = Signed{At: at, With: point.Sign(priv, valid.Point.Digest)}
	return true
}

// Reject settles the location as rejected if it has not already
// settled, used when this node stops waiting on a location (e.g. the
// round it could still be included in has already closed out).
func (s *InclusionState) Reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settled {
		s.settled = true
		s.rejected = true
	}
}
