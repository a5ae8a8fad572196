// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"crypto/ed25519"
	"sync"

	"github.com/luxfi/mempool/point"
)

// Round is the DAG's per-round slice: a Location per validator seated
// at that round, this node's key pair if it is one of them (nil
// otherwise — downstream code must tolerate that and simply not
// produce an own point), and the round number itself. Round holds only
// a plain reference to the peer set snapshot it was built from, not a
// live link back to Schedule: the original passes a weak back-ref so
// dropping a Round never keeps a Schedule subscription alive, which in
// Go simply falls out of Round never registering one.
type Round struct {
	round   point.Round
	peers   []point.PeerID
	keyPair ed25519.PrivateKey

	mu        sync.RWMutex
	locations map[point.PeerID]*Location
}

// NewRound builds a Round for the given round number, seeding a
// Location for every peer in the active validator set. keyPair is this
// node's private key if it is a validator at this round, or nil.
func NewRound(round point.Round, peers []point.PeerID, keyPair ed25519.PrivateKey) *Round {
	r := &Round{
		round:     round,
		peers:     append([]point.PeerID(nil), peers...),
		keyPair:   keyPair,
		locations: make(map[point.PeerID]*Location, len(peers)),
	}
	for _, p := range peers {
		r.locations[p] = newLocation()
	}
	return r
}

// RoundNumber returns the round this slice belongs to.
func (r *Round) RoundNumber() point.Round { return r.round }

// KeyPair returns this node's key pair at this round, and whether it
// is seated as a validator here at all.
func (r *Round) KeyPair() (ed25519.PrivateKey, bool) {
	return r.keyPair, r.keyPair != nil
}

// Peers returns a copy of the validator set active at this round.
func (r *Round) Peers() []point.PeerID {
	return append([]point.PeerID(nil), r.peers...)
}

// Location returns the Location seated for author at this round, and
// whether author is a recognized validator here.
func (r *Round) Location(author point.PeerID) (*Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.locations[author]
	return loc, ok
}

// EnsureLocation returns the Location for author, creating one even if
// author fell outside the configured validator set at this round (an
// equivocator or an author from an overlapping epoch boundary still
// needs somewhere to record its version for dependency resolution).
func (r *Round) EnsureLocation(author point.PeerID) *Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.locations[author]
	if !ok {
		loc = newLocation()
		r.locations[author] = loc
	}
	return loc
}

// Locations returns a snapshot of every (author, Location) pair known
// at this round, for the collector to scan for a quorum of includes.
func (r *Round) Locations() map[point.PeerID]*Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[point.PeerID]*Location, len(r.locations))
	for p, l := range r.locations {
		out[p] = l
	}
	return out
}
