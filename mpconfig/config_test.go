// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePresets(t *testing.T) {
	for name, cfg := range map[string]Config{
		"mainnet": Mainnet(),
		"testnet": Testnet(),
		"local":   Local(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsLagBelowHistory(t *testing.T) {
	cfg := Local()
	cfg.Consensus.MaxConsensusLagRounds = cfg.Consensus.CommitHistoryRounds - 1
	require.ErrorIs(t, cfg.Validate(), errLagBelowHistory)
}

func TestValidateRejectsBufferBelowBatch(t *testing.T) {
	cfg := Local()
	cfg.Consensus.PayloadBufferBytes = cfg.Consensus.PayloadBatchBytes - 1
	require.ErrorIs(t, cfg.Validate(), errBufferBelowBatch)
}

func TestDeriveOverlayIDDeterministic(t *testing.T) {
	cfg := Local()
	id1 := DeriveOverlayID(cfg)
	id2 := DeriveOverlayID(cfg)
	require.Equal(t, id1, id2)

	other := cfg
	other.Consensus.DeduplicateRounds++
	require.NotEqual(t, id1, DeriveOverlayID(other))
}

func TestInitDerivesDeterministicGenesis(t *testing.T) {
	defer resetForTest()

	cfg := Local()
	got1, err := Init(cfg)
	require.NoError(t, err)

	resetForTest()
	got2, err := Init(cfg)
	require.NoError(t, err)

	require.Equal(t, got1.OverlayID, got2.OverlayID)
	require.Equal(t, got1.GenesisAuthor, got2.GenesisAuthor)
	require.Equal(t, got1.GenesisPoint.Digest, got2.GenesisPoint.Digest)
	require.True(t, got1.GenesisPoint.IsIntegrityOK())
	require.True(t, got1.GenesisPoint.IsWellFormed(cfg.Genesis.Round))
}

func TestInitRejectsSecondDifferentConfig(t *testing.T) {
	defer resetForTest()

	_, err := Init(Local())
	require.NoError(t, err)

	other := Testnet()
	_, err = Init(other)
	require.ErrorIs(t, err, errAlreadyInitialized)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	defer resetForTest()

	cfg := Local()
	cfg.Consensus.MaxConsensusLagRounds = cfg.Consensus.CommitHistoryRounds - 1
	_, err := Init(cfg)
	require.Error(t, err)

	_, ok := Cached()
	require.False(t, ok)
}
