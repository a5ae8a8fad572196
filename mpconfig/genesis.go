// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpconfig

import (
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/luxfi/mempool/point"
)

// errAlreadyInitialized mirrors the original's refusal to re-derive
// process-wide state from different configuration data: Genesis and
// CachedConfig are meant to be set exactly once per process.
var errAlreadyInitialized = errors.New("mpconfig: already initialized with different configuration")

// CachedConfig is the process-wide, immutable-after-init view of a
// node's configuration: the validated Config, its derived OverlayID,
// and the genesis point every DAG in this overlay starts from.
type CachedConfig struct {
	Config        Config
	OverlayID     OverlayID
	GenesisAuthor point.PeerID
	GenesisPoint  *point.Point
}

var (
	cachedMu sync.Mutex
	cached   *CachedConfig
)

// Init validates cfg, derives its OverlayID and canonical genesis
// point, and installs the result as the process-wide CachedConfig. A
// second call with a different OverlayID returns errAlreadyInitialized;
// a second call with the same OverlayID returns the existing value,
// matching a OnceLock's idempotent-on-equal-input semantics.
func Init(cfg Config) (*CachedConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	overlayID := DeriveOverlayID(cfg)
	genesisAuthor, genesisPriv := deriveGenesisKey(overlayID)
	genesisPoint := buildGenesisPoint(cfg, genesisAuthor, genesisPriv)

	next := &CachedConfig{
		Config:        cfg,
		OverlayID:     overlayID,
		GenesisAuthor: genesisAuthor,
		GenesisPoint:  genesisPoint,
	}

	cachedMu.Lock()
	defer cachedMu.Unlock()
	if cached == nil {
		cached = next
		return cached, nil
	}
	if cached.OverlayID != overlayID {
		return nil, errAlreadyInitialized
	}
	return cached, nil
}

// Cached returns the process-wide CachedConfig installed by Init, or
// false if Init has not yet been called.
func Cached() (*CachedConfig, bool) {
	cachedMu.Lock()
	defer cachedMu.Unlock()
	return cached, cached != nil
}

// resetForTest clears the process-wide singleton. Exists only so tests
// can exercise Init in isolation; never called from production code.
func resetForTest() {
	cachedMu.Lock()
	defer cachedMu.Unlock()
	cached = nil
}

// deriveGenesisKey derives a deterministic Ed25519 keypair from the
// overlay id, exactly as the original derives its genesis secret key
// from the overlay id's raw bytes: every node in the overlay computes
// the same keypair and therefore the same genesis point without any
// out-of-band distribution.
func deriveGenesisKey(overlayID OverlayID) (point.PeerID, ed25519.PrivateKey) {
	priv := ed25519.NewKeyFromSeed(overlayID[:])
	pub := priv.Public().(ed25519.PublicKey)
	var author point.PeerID
	copy(author[:], pub)
	return author, priv
}

// buildGenesisPoint constructs the canonical empty, self-anchored
// point every DAG in this overlay is rooted at.
func buildGenesisPoint(cfg Config, author point.PeerID, priv ed25519.PrivateKey) *point.Point {
	body := point.PointBody{
		Location:      point.Location{Round: cfg.Genesis.Round, Author: author},
		Time:          point.UnixTime(cfg.Genesis.UnixTimeMillis),
		AnchorTime:    point.UnixTime(cfg.Genesis.UnixTimeMillis),
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	return point.New(priv, body)
}
