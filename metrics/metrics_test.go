// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("mempool", reg)
	require.NoError(t, err)

	m.DownloadAttempts().Inc()
	m.CommitAnchors().Add(3)
	m.ConsensusLagRounds().Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics("mempool", reg)
	require.NoError(t, err)

	_, err = NewMetrics("mempool", reg)
	require.Error(t, err)
}
