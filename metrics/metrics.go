// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes prometheus instrumentation for the download,
// commit, broadcast, and engine packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registerer is a prometheus.Registerer, named locally so callers don't
// need to import prometheus directly just to construct a Metrics.
type Registerer interface {
	prometheus.Registerer
}

// Metrics is the full set of counters and gauges this node exports.
type Metrics interface {
	// DownloadAttempts counts every peer query the downloader issues.
	DownloadAttempts() prometheus.Counter
	// DownloadResolved counts downloads that ended Verified.
	DownloadResolved() prometheus.Counter
	// DownloadNotFound counts downloads that ended NotFound by quorum.
	DownloadNotFound() prometheus.Counter

	// CommitAnchors counts anchor points committed.
	CommitAnchors() prometheus.Counter
	// CommitHistoryPoints counts causal-history points emitted alongside anchors.
	CommitHistoryPoints() prometheus.Counter

	// RoundsAdvanced counts DAG front advances.
	RoundsAdvanced() prometheus.Counter
	// ConsensusLagRounds reports the current gap between this node's
	// front and the highest round it has observed from peers.
	ConsensusLagRounds() prometheus.Gauge

	// BroadcastAdmitted counts points admitted directly into the DAG.
	BroadcastAdmitted() prometheus.Counter
	// BroadcastCached counts points cached for a future round.
	BroadcastCached() prometheus.Counter
	// BroadcastDropped counts points dropped as stale, too-far-future, or duplicate.
	BroadcastDropped() prometheus.Counter
}

// NewMetrics builds and registers every metric under namespace.
func NewMetrics(namespace string, registerer Registerer) (Metrics, error) {
	m := &metrics{
		downloadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "attempts_total",
			Help:      "Number of peer queries issued by the downloader.",
		}),
		downloadResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "resolved_total",
			Help:      "Number of downloads that resolved to a verified point.",
		}),
		downloadNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "not_found_total",
			Help:      "Number of downloads that resolved to not-found by quorum.",
		}),
		commitAnchors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "anchors_total",
			Help:      "Number of anchor points committed.",
		}),
		commitHistoryPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "history_points_total",
			Help:      "Number of causal-history points emitted alongside anchors.",
		}),
		roundsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rounds_advanced_total",
			Help:      "Number of times the DAG front advanced to a new round.",
		}),
		consensusLagRounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "consensus_lag_rounds",
			Help:      "Rounds behind the highest round observed from any peer.",
		}),
		broadcastAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "admitted_total",
			Help:      "Number of points admitted directly into the DAG.",
		}),
		broadcastCached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "cached_total",
			Help:      "Number of points cached for a future round.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Number of points dropped as stale, too-far-future, or duplicate.",
		}),
	}

	collectors := []prometheus.Collector{
		m.downloadAttempts, m.downloadResolved, m.downloadNotFound,
		m.commitAnchors, m.commitHistoryPoints,
		m.roundsAdvanced, m.consensusLagRounds,
		m.broadcastAdmitted, m.broadcastCached, m.broadcastDropped,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type metrics struct {
	downloadAttempts prometheus.Counter
	downloadResolved prometheus.Counter
	downloadNotFound prometheus.Counter

	commitAnchors       prometheus.Counter
	commitHistoryPoints prometheus.Counter

	roundsAdvanced     prometheus.Counter
	consensusLagRounds prometheus.Gauge

	broadcastAdmitted prometheus.Counter
	broadcastCached   prometheus.Counter
	broadcastDropped  prometheus.Counter
}

func (m *metrics) DownloadAttempts() prometheus.Counter    { return m.downloadAttempts }
func (m *metrics) DownloadResolved() prometheus.Counter    { return m.downloadResolved }
func (m *metrics) DownloadNotFound() prometheus.Counter    { return m.downloadNotFound }
func (m *metrics) CommitAnchors() prometheus.Counter       { return m.commitAnchors }
func (m *metrics) CommitHistoryPoints() prometheus.Counter { return m.commitHistoryPoints }
func (m *metrics) RoundsAdvanced() prometheus.Counter      { return m.roundsAdvanced }
func (m *metrics) ConsensusLagRounds() prometheus.Gauge    { return m.consensusLagRounds }
func (m *metrics) BroadcastAdmitted() prometheus.Counter   { return m.broadcastAdmitted }
func (m *metrics) BroadcastCached() prometheus.Counter     { return m.broadcastCached }
func (m *metrics) BroadcastDropped() prometheus.Counter    { return m.broadcastDropped }
