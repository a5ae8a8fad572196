// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mpconfig holds the consensus configuration, the genesis
// point derivation, and the process-wide OverlayID binding that makes
// two differently-configured nodes refuse to interoperate.
package mpconfig

import (
	"errors"
	"time"

	"github.com/luxfi/mempool/point"
)

// errInvalidConfig-family sentinels, following the teacher's
// package-level error-variable convention.
var (
	errLagBelowHistory  = errors.New("mpconfig: max_consensus_lag_rounds must be >= commit_history_rounds")
	errBufferBelowBatch = errors.New("mpconfig: payload_buffer_bytes must be >= payload_batch_bytes")
)

// GenesisInfo pins the point the DAG begins from: its round and the
// wall-clock millisecond timestamp it carries.
type GenesisInfo struct {
	Round          point.Round
	UnixTimeMillis uint64
}

// ConsensusConfig holds the parameters that affect protocol behavior.
// Every field except PayloadBufferBytes is bound into the OverlayID:
// two nodes with different values in those fields cannot interoperate.
type ConsensusConfig struct {
	// ClockSkewMillis bounds how far ahead of local time a point's
	// declared Time may be before it is rejected.
	ClockSkewMillis uint64
	// PayloadBatchBytes is the target size of one point's Payload.
	PayloadBatchBytes uint32
	// PayloadBufferBytes bounds how much payload the input buffer may
	// hold before producing points is throttled.
	PayloadBufferBytes uint32
	// CommitHistoryRounds is the certification depth an anchor
	// candidate must accumulate before the committer confirms it.
	CommitHistoryRounds uint32
	// DeduplicateRounds bounds how long the broadcast filter remembers
	// already-seen point digests.
	DeduplicateRounds uint32
	// MaxConsensusLagRounds must be at least CommitHistoryRounds.
	// cmd/mempool-node uses it as the DAG depth of the verifier's
	// recursion cutoff and of the broadcast filter's lower window edge;
	// the restart path does not read it.
	MaxConsensusLagRounds uint32
}

// NodeConfig holds purely local operational knobs: never bound into
// the OverlayID, since a node may tune them without breaking
// interoperability.
type NodeConfig struct {
	LogTruncateLongValues       bool
	CleanDbPeriodRounds         uint32
	CacheFutureBroadcastsRounds uint32
}

// DefaultNodeConfig returns the teacher-style defaults for purely local
// knobs.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		LogTruncateLongValues:       true,
		CleanDbPeriodRounds:         105,
		CacheFutureBroadcastsRounds: 105,
	}
}

// Config is the full, validated configuration a node starts from.
type Config struct {
	Genesis       GenesisInfo
	Consensus     ConsensusConfig
	Node          NodeConfig
	PointMaxBytes uint32
}

// Validate checks the invariants the OverlayID derivation assumes
// hold: a lag window that can never be shorter than the certification
// depth it must eventually catch up to, and a payload buffer that can
// never be smaller than a single batch drawn from it.
func (c Config) Validate() error {
	if c.Consensus.MaxConsensusLagRounds < c.Consensus.CommitHistoryRounds {
		return errLagBelowHistory
	}
	if c.Consensus.PayloadBufferBytes < c.Consensus.PayloadBatchBytes {
		return errBufferBelowBatch
	}
	return nil
}

// Mainnet returns production-scale configuration.
func Mainnet() Config {
	return Config{
		Genesis: GenesisInfo{Round: point.BottomRound.Next()},
		Consensus: ConsensusConfig{
			ClockSkewMillis:       5 * uint64(time.Second/time.Millisecond),
			PayloadBatchBytes:     1 << 20,
			PayloadBufferBytes:    1 << 24,
			CommitHistoryRounds:   20,
			DeduplicateRounds:     30,
			MaxConsensusLagRounds: 100,
		},
		Node:          DefaultNodeConfig(),
		PointMaxBytes: 4 << 20,
	}
}

// Testnet returns configuration tuned for a smaller, faster network.
func Testnet() Config {
	cfg := Mainnet()
	cfg.Consensus.CommitHistoryRounds = 10
	cfg.Consensus.DeduplicateRounds = 15
	cfg.Consensus.MaxConsensusLagRounds = 50
	return cfg
}

// Local returns configuration for single-machine development clusters.
func Local() Config {
	cfg := Mainnet()
	cfg.Consensus.ClockSkewMillis = 1000
	cfg.Consensus.PayloadBatchBytes = 1 << 16
	cfg.Consensus.PayloadBufferBytes = 1 << 20
	cfg.Consensus.CommitHistoryRounds = 5
	cfg.Consensus.DeduplicateRounds = 8
	cfg.Consensus.MaxConsensusLagRounds = 20
	cfg.PointMaxBytes = 1 << 20
	return cfg
}
