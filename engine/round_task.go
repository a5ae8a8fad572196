// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"time"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/verify"
)

// collectInterval is how often the collector re-scans the round behind
// it for newly completed versions, mirroring the download package's
// ticker-driven poll loop rather than wiring a dedicated fan-in channel
// per location.
const collectInterval = 50 * time.Millisecond

// quorumIncludes returns 2F+1 for a validator set of size n, the
// number of distinct quorum-countable points at round-1 this node must
// gather before it may produce its own point at round, per spec 4.2.
func quorumIncludes(n int) int {
	f := (n - 1) / 3
	return 2*f + 1
}

// runRoundTask drives one iteration of the per-round state machine:
// wait for an includes quorum at target-1, best-effort collect
// witnesses at target-2, then produce (or replay) this node's own
// point at target and broadcast it. Returns target as the round that
// just advanced.
func (e *Engine) runRoundTask(ctx context.Context, target point.Round) (point.Round, error) {
	includes, err := e.waitIncludesQuorum(ctx, target)
	if err != nil {
		return 0, err
	}
	witness := e.collectWitness(target)

	e.mu.Lock()
	replayed, hasOwn := e.own[target]
	e.mu.Unlock()

	var p *point.Point
	if hasOwn {
		p = replayed
	} else {
		p, err = e.produceOwnPoint(ctx, target, includes, witness)
		if err != nil {
			return 0, err
		}
	}

	if p != nil {
		rnd, ok := e.deps.Front.Round(target)
		if ok {
			loc := rnd.EnsureLocation(e.deps.Self)
			if loc.State().IsEmpty() {
				loc.InsertOwnPoint(p.Digest, point.TrustedPoint(point.ValidPoint{Point: p}))
			}
		}
		if err := e.deps.Dispatcher.Broadcast(p); err != nil && e.deps.Log != nil {
			e.deps.Log.Warn("engine: broadcast own point failed", "round", target, "err", err)
		}
		if err := e.persist(target, p, point.Trusted); err != nil && e.deps.Log != nil {
			e.deps.Log.Warn("engine: persist own point failed", "round", target, "err", err)
		}

		e.mu.Lock()
		delete(e.own, target)
		e.mu.Unlock()
	}

	return target, nil
}

// waitIncludesQuorum blocks until round-1 (target.Prev()) has
// accumulated quorumIncludes(peers) distinct quorum-countable
// completions, or ctx is cancelled. Returns the digests to cite as
// Includes, keyed by author. The round right after genesis naturally
// satisfies this at once: genesis's own location is the only entry and
// quorumIncludes(0) is 1.
func (e *Engine) waitIncludesQuorum(ctx context.Context, target point.Round) (map[point.PeerID]point.Digest, error) {
	prev := target.Prev()

	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	for {
		rnd, ok := e.deps.Front.Round(prev)
		if ok {
			out := e.countableSnapshot(rnd)
			if len(out) >= quorumIncludes(len(rnd.Peers())) {
				return out, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// countableSnapshot scans rnd's locations for completed,
// quorum-countable versions, keyed by author.
func (e *Engine) countableSnapshot(rnd *dag.Round) map[point.PeerID]point.Digest {
	out := make(map[point.PeerID]point.Digest, len(rnd.Peers()))
	for author, loc := range rnd.Locations() {
		verdict, ok := loc.State().First()
		if !ok || !verdict.QuorumCountable() {
			continue
		}
		valid, ok := verdict.Valid()
		if !ok {
			continue
		}
		out[author] = valid.Point.Digest
	}
	return out
}

// collectWitness best-effort snapshots round-2 (target.Prev().Prev())
// without blocking: whatever has completed by the time the includes
// quorum closed is cited, anything still pending is simply omitted, per
// spec 4.2's "witness is opportunistic, never gates production" rule. A
// target too close to genesis for round-2 to exist yields no witness,
// falling out naturally from Front.Round reporting not-found.
func (e *Engine) collectWitness(target point.Round) map[point.PeerID]point.Digest {
	r := target.Prev().Prev()
	rnd, ok := e.deps.Front.Round(r)
	if !ok {
		return map[point.PeerID]point.Digest{}
	}
	return e.countableSnapshot(rnd)
}

// AdmitPoint is the glue between inbound admission (broadcast.Filter.Admit
// returning Admitted) and the DAG: it drops p if verify.Verify rejects
// it, otherwise starts validation for p at its own location,
// deduplicated against any version already under way, and registers
// the result with front so dependents and the collector can observe it
// complete.
func (e *Engine) AdmitPoint(ctx context.Context, p *point.Point) {
	if err := verify.Verify(p, e.deps.Schedule, e.genesisRound); err != nil {
		return
	}
	rnd, ok := e.deps.Front.Round(p.Body.Location.Round)
	if !ok {
		return
	}
	author := p.Body.Location.Author
	loc := rnd.EnsureLocation(author)
	fut, started := loc.AddValidate(p.Digest, func() point.DagPoint {
		return e.deps.Verifier.Validate(ctx, p, e.deps.Front, loc)
	})
	if !started {
		return
	}
	fut.OnComplete(func(verdict point.DagPoint) {
		e.deps.Metrics.BroadcastAdmitted().Inc()
		if err := e.persist(p.Body.Location.Round, p, verdict.Kind()); err != nil && e.deps.Log != nil {
			e.deps.Log.Warn("engine: persist admitted point failed", "round", p.Body.Location.Round, "err", err)
		}
		e.trySign(p.Body.Location.Round, loc)
	})
}
