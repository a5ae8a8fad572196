// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"sync"

	"github.com/luxfi/mempool/point"
)

// Memory is an in-process reference Store, useful for tests and for
// nodes that accept re-downloading their DAG history on every restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Info
	rounds  map[point.Round]struct{}
	latest  point.Round
	hasAny  bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Info),
		rounds:  make(map[point.Round]struct{}),
	}
}

func (m *Memory) Put(round point.Round, author point.PeerID, digest point.Digest, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[string(key(round, author, digest))] = info
	m.rounds[round] = struct{}{}
	if !m.hasAny || round > m.latest {
		m.latest = round
		m.hasAny = true
	}
	return nil
}

func (m *Memory) Get(round point.Round, author point.PeerID, digest point.Digest) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.records[string(key(round, author, digest))]
	if !ok {
		return Info{}, ErrNotFound
	}
	return info, nil
}

func (m *Memory) LoadRound(round point.Round) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := string(roundPrefix(round))
	var out []Info
	for k, info := range m.records {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *Memory) LatestRound() (point.Round, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasAny
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
