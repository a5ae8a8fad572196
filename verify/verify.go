// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package verify implements the two-stage admission check every point
// goes through before it can be signed or committed: Verify (cheap,
// local, structural+signature) and Validate (recursive resolution of a
// point's includes/witness dependencies into a settled DagPoint under
// the BFT admission rules of spec section 4.1).
package verify

import (
	"errors"

	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
)

// ErrBadSig means the point's signature does not verify over its
// digest, or its digest does not match a fresh hash of its body.
var ErrBadSig = errors.New("verify: bad signature or digest")

// ErrIllFormed means the point passed integrity but violates the
// structural shape rules of spec section 3 (well-formedness), or its
// author is not a recognized validator at its round.
var ErrIllFormed = errors.New("verify: ill-formed point")

// Verify performs the cheap, local checks every point must pass before
// any dependency is even looked at: integrity (signature+digest) and
// well-formedness (structural shape), plus confirming the author is
// actually seated as a validator at the point's round according to
// schedule. This is the check the Downloader re-applies to every point
// returned by a peer query, independent of this node's own DAG state.
func Verify(p *point.Point, schedule *peer.Schedule, genesisRound point.Round) error {
	if !p.IsIntegrityOK() {
		return ErrBadSig
	}
	if !p.IsWellFormed(genesisRound) {
		return ErrIllFormed
	}
	peers := schedule.PeersFor(p.Body.Location.Round)
	if !containsPeer(peers, p.Body.Location.Author) {
		return ErrIllFormed
	}
	return nil
}

func containsPeer(peers []point.PeerID, id point.PeerID) bool {
	for _, p := range peers {
		if p == id {
			return true
		}
	}
	return false
}
