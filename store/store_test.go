// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"

	"github.com/luxfi/mempool/point"
)

// errFakeNotFound stands in for whatever not-found sentinel the real
// github.com/luxfi/database.Get returns; DB itself never relies on its
// identity, since it always checks Has first.
var errFakeNotFound = errors.New("fakedb: not found")

// fakeDB is a minimal in-memory database.Database, standing in for a
// real disk-backed implementation so DB can be exercised without an
// external dependency in tests.
type fakeDB struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeDB() *fakeDB { return &fakeDB{data: make(map[string][]byte)} }

func (f *fakeDB) Has(key []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[string(key)]
	return ok, nil
}

func (f *fakeDB) Get(key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[string(key)]
	if !ok {
		return nil, errFakeNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (f *fakeDB) Put(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	f.data[string(key)] = cp
	return nil
}

func (f *fakeDB) Delete(key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, string(key))
	return nil
}

func (f *fakeDB) NewBatch() database.Batch { return &fakeBatch{db: f} }

func (f *fakeDB) Close() error { return nil }

type fakeBatchOp struct {
	key, value []byte
	delete     bool
}

type fakeBatch struct {
	db  *fakeDB
	ops []fakeBatchOp
}

func (b *fakeBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, fakeBatchOp{key: key, value: value})
	return nil
}

func (b *fakeBatch) Delete(key []byte) error {
	b.ops = append(b.ops, fakeBatchOp{key: key, delete: true})
	return nil
}

func (b *fakeBatch) Size() int { return len(b.ops) }

func (b *fakeBatch) Reset() { b.ops = nil }

func (b *fakeBatch) Write() error {
	for _, op := range b.ops {
		if op.delete {
			if err := b.db.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *fakeBatch) Replay(w database.Writer) error {
	for _, op := range b.ops {
		if op.delete {
			if err := w.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func samplePoint(t *testing.T, author point.PeerID, priv ed25519.PrivateKey, round point.Round) *point.Point {
	t.Helper()
	body := point.PointBody{
		Location:      point.Location{Round: round, Author: author},
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	return point.New(priv, body)
}

// storeFactories lets the contract tests below run identically against
// both Store implementations.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"Memory": func() Store { return NewMemory() },
		"DB": func() Store {
			s, err := NewDB(newFakeDB())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			pub, priv, err := ed25519.GenerateKey(nil)
			require.NoError(t, err)
			var author point.PeerID
			copy(author[:], pub)

			p := samplePoint(t, author, priv, 7)
			require.NoError(t, s.Put(7, author, p.Digest, Info{Point: p, Status: point.Trusted}))

			got, err := s.Get(7, author, p.Digest)
			require.NoError(t, err)
			require.Equal(t, point.Trusted, got.Status)
			require.Equal(t, p.Digest, got.Point.Digest)
			require.Equal(t, p.Signature, got.Point.Signature)
		})
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			var author point.PeerID
			_, err := s.Get(1, author, point.Digest{})
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreLoadRoundEnumeratesEveryAuthor(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			digests := make(map[point.PeerID]point.Digest)
			for i := 0; i < 3; i++ {
				pub, priv, err := ed25519.GenerateKey(nil)
				require.NoError(t, err)
				var author point.PeerID
				copy(author[:], pub)
				p := samplePoint(t, author, priv, 3)
				require.NoError(t, s.Put(3, author, p.Digest, Info{Point: p, Status: point.Trusted}))
				digests[author] = p.Digest
			}

			infos, err := s.LoadRound(3)
			require.NoError(t, err)
			require.Len(t, infos, 3)
			for _, info := range infos {
				want, ok := digests[info.Point.Body.Location.Author]
				require.True(t, ok)
				require.Equal(t, want, info.Point.Digest)
			}
		})
	}
}

func TestStoreLatestRoundTracksHighestPut(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			_, ok := s.LatestRound()
			require.False(t, ok)

			pub, priv, err := ed25519.GenerateKey(nil)
			require.NoError(t, err)
			var author point.PeerID
			copy(author[:], pub)

			for _, r := range []point.Round{2, 9, 5} {
				p := samplePoint(t, author, priv, r)
				require.NoError(t, s.Put(r, author, p.Digest, Info{Point: p, Status: point.Trusted}))
			}

			latest, ok := s.LatestRound()
			require.True(t, ok)
			require.Equal(t, point.Round(9), latest)
		})
	}
}

func TestStorePutOverwritesSameKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			pub, priv, err := ed25519.GenerateKey(nil)
			require.NoError(t, err)
			var author point.PeerID
			copy(author[:], pub)

			p := samplePoint(t, author, priv, 4)
			require.NoError(t, s.Put(4, author, p.Digest, Info{Point: p, Status: point.Trusted}))
			require.NoError(t, s.Put(4, author, p.Digest, Info{Point: p, Status: point.Suspicious}))

			got, err := s.Get(4, author, p.Digest)
			require.NoError(t, err)
			require.Equal(t, point.Suspicious, got.Status)

			infos, err := s.LoadRound(4)
			require.NoError(t, err)
			require.Len(t, infos, 1, "overwriting the same (round,author,digest) must not duplicate the manifest entry")
		})
	}
}
