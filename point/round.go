// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package point defines the immutable message type that the consensus
// DAG is built from: points, their identifiers, links, and the
// verdicts validation assigns them.
package point

import "fmt"

// Round is a monotonically increasing logical time unit. Each validator
// produces at most one point per round.
type Round uint32

// BottomRound is a stub value that no real point, not even genesis, may
// occupy.
const BottomRound Round = 0

// Prev returns round-1. Panics on underflow: a caller asking for the
// predecessor of BottomRound is a coding error, never a runtime one.
func (r Round) Prev() Round {
	if r == 0 {
		panic("point: round number underflow")
	}
	return r - 1
}

// Next returns round+1. Panics on overflow for the same reason Prev panics.
func (r Round) Next() Round {
	if r == ^Round(0) {
		panic("point: round number overflow")
	}
	return r + 1
}

func (r Round) String() string {
	return fmt.Sprintf("%d", uint32(r))
}
