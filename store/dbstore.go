// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/luxfi/database"

	"github.com/luxfi/mempool/point"
)

// DB is a Store backed by a github.com/luxfi/database key-value
// database, for nodes that must survive a process restart without
// re-downloading their whole retained DAG window.
//
// The minimal Database contract (Get/Put/Has, no range iterator) means
// LoadRound cannot be answered by a prefix scan the way an iterator-
// backed store would do it; instead each round keeps a small manifest
// record under a dedicated index key listing every (author, digest)
// pair stored at that round, read-modify-written under mu so
// concurrent Puts at the same round never lose an entry.
type DB struct {
	db database.Database

	mu     sync.Mutex
	latest point.Round
	hasAny bool
}

// NewDB wraps an already-open database.Database as a Store, restoring
// its latest-round pointer from whatever was previously persisted.
func NewDB(db database.Database) (*DB, error) {
	s := &DB{db: db}
	ok, err := db.Has(latestRoundKey)
	if err != nil {
		return nil, fmt.Errorf("store: reading latest-round pointer: %w", err)
	}
	if ok {
		raw, err := db.Get(latestRoundKey)
		if err != nil {
			return nil, fmt.Errorf("store: reading latest-round pointer: %w", err)
		}
		s.latest = point.Round(binary.BigEndian.Uint32(raw))
		s.hasAny = true
	}
	return s, nil
}

var latestRoundKey = []byte("mempool/latest-round")

func manifestKey(round point.Round) []byte {
	buf := make([]byte, 1+4)
	buf[0] = 'm'
	binary.BigEndian.PutUint32(buf[1:], uint32(round))
	return buf
}

func recordKey(round point.Round, author point.PeerID, digest point.Digest) []byte {
	buf := make([]byte, 1+len(key(round, author, digest)))
	buf[0] = 'r'
	copy(buf[1:], key(round, author, digest))
	return buf
}

// manifest is the ordered list of (author, digest) pairs recorded at
// one round, so LoadRound can enumerate a round's records without a
// range iterator.
type manifest struct {
	entries []manifestEntry
}

type manifestEntry struct {
	author point.PeerID
	digest point.Digest
}

func encodeManifest(m manifest) []byte {
	buf := make([]byte, 4, 4+len(m.entries)*(len(point.PeerID{})+len(point.Digest{})))
	binary.BigEndian.PutUint32(buf, uint32(len(m.entries)))
	for _, e := range m.entries {
		buf = append(buf, e.author[:]...)
		buf = append(buf, e.digest[:]...)
	}
	return buf
}

func decodeManifest(b []byte) (manifest, error) {
	if len(b) < 4 {
		return manifest{}, fmt.Errorf("store: truncated manifest (%d bytes)", len(b))
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	const entryLen = 32 + 32
	m := manifest{entries: make([]manifestEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		if len(b) < entryLen {
			return manifest{}, fmt.Errorf("store: truncated manifest entry %d", i)
		}
		var e manifestEntry
		copy(e.author[:], b[:32])
		copy(e.digest[:], b[32:64])
		m.entries = append(m.entries, e)
		b = b[entryLen:]
	}
	return m, nil
}

func (s *DB) loadManifest(round point.Round) (manifest, error) {
	ok, err := s.db.Has(manifestKey(round))
	if err != nil {
		return manifest{}, err
	}
	if !ok {
		return manifest{}, nil
	}
	raw, err := s.db.Get(manifestKey(round))
	if err != nil {
		return manifest{}, err
	}
	return decodeManifest(raw)
}

func (s *DB) Put(round point.Round, author point.PeerID, digest point.Digest, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	if err := batch.Put(recordKey(round, author, digest), encodeInfo(info)); err != nil {
		return err
	}

	m, err := s.loadManifest(round)
	if err != nil {
		return fmt.Errorf("store: loading manifest for round %d: %w", round, err)
	}
	if !manifestHas(m, author, digest) {
		m.entries = append(m.entries, manifestEntry{author: author, digest: digest})
		if err := batch.Put(manifestKey(round), encodeManifest(m)); err != nil {
			return err
		}
	}

	if !s.hasAny || round > s.latest {
		s.latest = round
		s.hasAny = true
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], uint32(round))
		if err := batch.Put(latestRoundKey, raw[:]); err != nil {
			return err
		}
	}

	return batch.Write()
}

func manifestHas(m manifest, author point.PeerID, digest point.Digest) bool {
	for _, e := range m.entries {
		if e.author == author && e.digest == digest {
			return true
		}
	}
	return false
}

func (s *DB) Get(round point.Round, author point.PeerID, digest point.Digest) (Info, error) {
	ok, err := s.db.Has(recordKey(round, author, digest))
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{}, ErrNotFound
	}
	raw, err := s.db.Get(recordKey(round, author, digest))
	if err != nil {
		return Info{}, err
	}
	return decodeInfo(raw)
}

func (s *DB) LoadRound(round point.Round) ([]Info, error) {
	m, err := s.loadManifest(round)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		info, err := s.Get(round, e.author, e.digest)
		if err != nil {
			return nil, fmt.Errorf("store: loading (%d,%x): %w", round, e.author[:4], err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *DB) LatestRound() (point.Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasAny
}

func (s *DB) Close() error { return s.db.Close() }
