// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists points and their validation statuses across
// restarts: keyed by (round, author, digest), range-scannable by round, with a
// single latest-round pointer the engine consults on startup to decide
// how far back to re-extend the DAG.
package store

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/mempool/point"
)

// Status is the persisted counterpart of a settled point.DagPoint: only
// the tag is stored, since the ValidPoint payload is the Point itself
// plus reachability info the committer recomputes from the DAG on load.
type Status = point.VerdictKind

// Info is what the store keeps for one (round, author, digest): the point
// itself (nil if only a verdict was recorded for a not-yet-downloaded
// dependency) and its settled status.
type Info struct {
	Point  *point.Point
	Status Status
}

// ErrNotFound is returned by Get when no record exists for the given
// location.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract the engine relies on to survive
// restarts: single-writer per round for own data, concurrent readers,
// with LoadRound/Get/LatestRound expected to run on a dedicated
// blocking worker rather than the caller's own goroutine when backed by
// disk I/O.
type Store interface {
	// Put records info at (round, author, digest), overwriting any
	// previous record at the same key.
	Put(round point.Round, author point.PeerID, digest point.Digest, info Info) error
	// Get retrieves the record at (round, author, digest), or
	// ErrNotFound.
	Get(round point.Round, author point.PeerID, digest point.Digest) (Info, error)
	// LoadRound returns every record stored at round, in no particular
	// order; the caller is responsible for re-deriving DAG structure
	// from it.
	LoadRound(round point.Round) ([]Info, error)
	// LatestRound returns the highest round with at least one stored
	// record, and false if the store is empty.
	LatestRound() (point.Round, bool)
	// Close releases any underlying resources.
	Close() error
}

// key encodes (round, author, digest) as a single sortable byte string:
// big-endian round first so a range scan by round is a contiguous key
// prefix scan.
func key(round point.Round, author point.PeerID, digest point.Digest) []byte {
	buf := make([]byte, 4+len(author)+len(digest))
	binary.BigEndian.PutUint32(buf[:4], uint32(round))
	copy(buf[4:], author[:])
	copy(buf[4+len(author):], digest[:])
	return buf
}

func roundPrefix(round point.Round) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(round))
	return buf
}

func decodeRound(k []byte) point.Round {
	return point.Round(binary.BigEndian.Uint32(k[:4]))
}
