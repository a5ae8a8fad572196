// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/mpconfig"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/store"
)

// seedGenesis resets front to hold exactly the genesis round, with the
// overlay's canonical genesis point pre-settled as Trusted at its
// author's location.
func seedGenesis(front *dag.Front, cached *mpconfig.CachedConfig) {
	genesisRound := cached.Config.Genesis.Round
	rnd := dag.NewRound(genesisRound, nil, nil)
	verdict := point.TrustedPoint(point.ValidPoint{Point: cached.GenesisPoint})
	rnd.EnsureLocation(cached.GenesisAuthor).InsertOwnPoint(cached.GenesisPoint.Digest, verdict)
	front.Seed(rnd)
}

// restartBottom returns the round this node should rebuild its front
// from: the highest round it has anything persisted for, or genesis on
// a fresh start. Spec 5's "gap on restart" window is enforced later,
// once the committer's own view has had a chance to catch up — see
// commit.Result.HasGap, surfaced by commitLoop.
func restartBottom(deps Deps) point.Round {
	if latest, ok := deps.Store.LatestRound(); ok {
		return latest
	}
	return deps.Cached.Config.Genesis.Round
}

// replayPersisted re-populates front's locations for every round in
// (genesisRound, start] from deps.Store, so a restarted node resumes
// with the same InclusionState decisions it had settled before it went
// down, without re-downloading or re-validating anything.
func (e *Engine) replayPersisted(start point.Round) error {
	genesisRound := e.deps.Cached.Config.Genesis.Round
	if start <= genesisRound {
		return nil
	}
	for r := genesisRound.Next(); ; r = r.Next() {
		infos, err := e.deps.Store.LoadRound(r)
		if err != nil {
			return err
		}
		if rnd, ok := e.deps.Front.Round(r); ok {
			for _, info := range infos {
				e.insertPersisted(rnd, info, genesisRound)
			}
		}
		if r == start {
			return nil
		}
	}
}

// insertPersisted installs one stored record into rnd, reconstructing
// its settled DagPoint from the recorded Status rather than
// re-validating: a restart trusts its own prior decisions. A record
// authored by this node is installed via InsertOwnPoint so its
// InclusionState comes back already settled signed, exactly as it was
// before the restart, instead of waiting to be re-signed.
func (e *Engine) insertPersisted(rnd *dag.Round, info store.Info, genesisRound point.Round) {
	if info.Point == nil {
		return
	}
	author := info.Point.Body.Location.Author
	digest := info.Point.Digest
	verdict := verdictFromStatus(info, genesisRound)
	loc := rnd.EnsureLocation(author)
	if author == e.deps.Self && verdict.Kind() == point.Trusted {
		loc.InsertOwnPoint(digest, verdict)
		return
	}
	loc.AddValidate(digest, func() point.DagPoint { return verdict })
}

// verdictFromStatus rebuilds the DagPoint a stored Info represents.
// Trusted/Suspicious verdicts recompute Reachability from the point's
// own anchor links, which is pure and cheap enough to redo rather than
// persist redundantly.
func verdictFromStatus(info store.Info, genesisRound point.Round) point.DagPoint {
	switch info.Status {
	case point.Trusted, point.Suspicious:
		p := info.Point
		reach := point.Reachability{
			AnchorProofRound:   p.AnchorRound(p.Body.AnchorProof, genesisRound),
			AnchorTriggerRound: p.AnchorRound(p.Body.AnchorTrigger, genesisRound),
		}
		valid := point.ValidPoint{Point: p, Reachability: reach}
		if info.Status == point.Trusted {
			return point.TrustedPoint(valid)
		}
		return point.SuspiciousPoint(valid)
	case point.IllFormed:
		return point.IllFormedPoint()
	case point.NotFound:
		return point.NotFoundPoint()
	default:
		return point.InvalidPoint()
	}
}

// restoreOwnPoint checks whether this node's own point already exists
// in the replayed front at round start (left over from before a
// restart), and if so records it so roundLoop replays that exact round
// instead of skipping straight to start.Next().
func (e *Engine) restoreOwnPoint(start point.Round) {
	rnd, ok := e.deps.Front.Round(start)
	if !ok {
		return
	}
	loc, ok := rnd.Location(e.deps.Self)
	if !ok {
		return
	}
	for digest, fut := range loc.Versions() {
		verdict, ok := fut.Peek()
		if !ok || verdict.Kind() != point.Trusted {
			continue
		}
		valid, _ := verdict.Valid()
		if valid.Point.Signature == (point.Signature{}) {
			continue
		}
		e.mu.Lock()
		e.own[start] = valid.Point
		e.replayRound = start
		e.hasReplay = true
		e.mu.Unlock()
		_ = digest
		return
	}
}
