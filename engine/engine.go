// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine drives the round-by-round consensus loop: it extends
// the DAG front, produces this node's own point, collects a quorum of
// includes/witnesses from the rounds behind it, advances, and runs the
// commit task that turns accumulated DAG depth into the linear anchor
// stream consumers read from Output.
package engine

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"

	"github.com/luxfi/mempool/commit"
	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/inputbuffer"
	"github.com/luxfi/mempool/metrics"
	"github.com/luxfi/mempool/mpconfig"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/store"
	"github.com/luxfi/mempool/verify"
)

// Dispatcher is the transport surface the engine drives beyond the
// downloader's point-by-id queries: best-effort fan-out of a point
// this node produced or is rebroadcasting on a depender's behalf.
type Dispatcher interface {
	download.Dispatcher
	Broadcast(p *point.Point) error
}

// Deps bundles every external collaborator the engine needs. All but
// Key are required; New panics if any other is nil, since a
// misconfigured engine is a coding error, not a condition to run
// degraded. A nil Key leaves the engine without a signing key at every
// round.
type Deps struct {
	Front      *dag.Front
	Committer  *commit.Committer
	Schedule   *peer.Schedule
	Downloader *download.Downloader
	Verifier   *verify.Verifier
	Dispatcher Dispatcher
	Buffer     inputbuffer.InputBuffer
	Store      store.Store
	Metrics    metrics.Metrics
	Cached     *mpconfig.CachedConfig
	Self       point.PeerID
	Key        ed25519.PrivateKey
	Log        log.Logger
}

// ResultKind distinguishes the two shapes CommitResult takes.
type ResultKind int

const (
	// ResultNext carries one freshly committed anchor and its history.
	ResultNext ResultKind = iota
	// ResultNewStartAfterGap reports that the engine's retained DAG
	// window jumped forward past a gap it cannot recover causal history
	// for; consumers must treat everything before Gap as unknown.
	ResultNewStartAfterGap
)

// CommitResult is one item of the engine's committed-output stream,
// read from Output in order.
type CommitResult struct {
	Kind   ResultKind
	Anchor commit.AnchorData
	Gap    point.Round
}

// Engine owns the DagFront and the per-round task state machine
// described in spec 4.5: each iteration extends the front, produces
// this node's own point (unless replaying one left over from a prior
// run), runs the collector until it gathers a quorum of includes (and,
// if this node has an unresolved previous point, evidence for it), and
// advances. A parallel task restarts the committer on every round
// advance and flushes ready anchors to the Output channel.
type Engine struct {
	deps Deps

	genesisRound point.Round

	consensusRound *dag.RoundWatch
	commitRound    *dag.RoundWatch
	topKnownAnchor *dag.RoundWatch

	out chan CommitResult

	mu          sync.Mutex
	own         map[point.Round]*point.Point // produced-but-not-yet-certified own points, for restart replay
	replayRound point.Round
	hasReplay   bool
}

// New builds an Engine from deps, restoring its DAG front from
// whatever deps.Store already has persisted and emitting a
// ResultNewStartAfterGap onto Output first if a restart jumped the
// retained window forward past a gap (spec 5, "Gap on restart").
func New(ctx context.Context, deps Deps) (*Engine, error) {
	requireDeps(deps)

	e := &Engine{
		deps:         deps,
		genesisRound: deps.Cached.Config.Genesis.Round,
		out:          make(chan CommitResult, 64),
		own:          make(map[point.Round]*point.Point),
	}

	start := restartBottom(deps)
	e.consensusRound = dag.NewRoundWatch(start)
	e.commitRound = dag.NewRoundWatch(start)
	e.topKnownAnchor = dag.NewRoundWatch(start)

	seedGenesis(e.deps.Front, deps.Cached)
	e.deps.Front.FillToTop(start, e.deps.Schedule.PeersFor, e.keyFor)

	if err := e.replayPersisted(start); err != nil {
		return nil, err
	}
	e.restoreOwnPoint(start)

	return e, nil
}

func requireDeps(d Deps) {
	switch {
	case d.Front == nil, d.Committer == nil, d.Schedule == nil, d.Downloader == nil,
		d.Verifier == nil, d.Dispatcher == nil, d.Buffer == nil, d.Store == nil,
		d.Metrics == nil, d.Cached == nil, d.Log == nil:
		panic("engine: nil dependency passed to New")
	}
}

// Output is the stream consumers read committed anchors from, in
// order: ResultNewStartAfterGap (at most once, only right after a
// restart with a gap) followed by ResultNext values forever after.
func (e *Engine) Output() <-chan CommitResult { return e.out }

// ObserveRound lets an external collaborator (typically
// broadcast.Filter, on seeing a point cached for a future round) push
// the highest round this node has heard about from the network,
// independent of how far its own DAG front has caught up.
func (e *Engine) ObserveRound(r point.Round) {
	e.topKnownAnchor.SetMax(r)
}

// persist records p's settled status in deps.Store so a future restart
// can replay this node's decisions without re-downloading or
// re-validating anything.
func (e *Engine) persist(round point.Round, p *point.Point, status point.VerdictKind) error {
	return e.deps.Store.Put(round, p.Body.Location.Author, p.Digest, store.Info{Point: p, Status: status})
}

func (e *Engine) keyFor(r point.Round) (ed25519.PrivateKey, bool) {
	if e.deps.Key == nil {
		return nil, false
	}
	for _, p := range e.deps.Schedule.PeersFor(r) {
		if p == e.deps.Self {
			return e.deps.Key, true
		}
	}
	return nil, false
}

// trySign wires spec 4.3's state().sign operation: once a version at
// round finishes validating, this node (if seated as a validator
// there) certifies it by settling its InclusionState signed, so a peer
// asking this node to endorse the point (Endorser.Endorse) gets a
// signature back, and PrevPoint.Evidence can accumulate the >= 2F
// signatures buildProof needs. A point whose declared time lands
// outside this node's clock-skew window is rejected or, if it is only
// ahead of local time, left unsettled for a later call to decide.
func (e *Engine) trySign(round point.Round, loc *dag.Location) {
	priv, hasKeys := e.keyFor(round)
	now := point.UnixTime(uint64(time.Now().UnixMilli()))
	skew := point.UnixTime(e.deps.Cached.Config.Consensus.ClockSkewMillis)
	start := point.UnixTime(0)
	if now > skew {
		start = now - skew
	}
	loc.State().Sign(round, priv, hasKeys, start, now+skew)
}

// Run drives the engine loop until ctx is cancelled. It never returns
// nil on its own: a cancelled context is the only clean exit, and a
// panic in any subtask is allowed to propagate and crash the process,
// per spec 4.5's "consensus failure is fatal" cancellation semantics.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.out)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.commitLoop(ctx) })
	g.Go(func() error { return e.roundLoop(ctx) })
	return g.Wait()
}

// roundLoop implements the per-iteration algorithm of spec 4.5: it
// never advances consensusRound by more than one round per iteration,
// so a restart replays at most the last two rounds of state before
// resuming steady-state production.
func (e *Engine) roundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		target := e.nextTarget()
		e.deps.Front.FillToTop(target, e.deps.Schedule.PeersFor, e.keyFor)
		e.deps.Committer.ExtendFromAhead(e.deps.Front.Snapshot())

		nextRound, err := e.runRoundTask(ctx, target)
		if err != nil {
			return err
		}

		e.deps.Metrics.RoundsAdvanced().Inc()
		e.consensusRound.SetMax(nextRound)
		e.reportLag()
	}
}

// nextTarget returns the round roundLoop's next iteration should
// produce and collect for: the round a leftover own point was restored
// at, exactly once right after a restart, or one past the front's
// current top otherwise.
func (e *Engine) nextTarget() point.Round {
	e.mu.Lock()
	if e.hasReplay {
		e.hasReplay = false
		r := e.replayRound
		e.mu.Unlock()
		return r
	}
	e.mu.Unlock()

	top, _ := e.deps.Front.Top()
	return top.RoundNumber().Next()
}

func (e *Engine) reportLag() {
	top, ok := e.deps.Front.Top()
	if !ok {
		return
	}
	known := e.topKnownAnchor.Get()
	if known <= top.RoundNumber() {
		e.deps.Metrics.ConsensusLagRounds().Set(0)
		return
	}
	e.deps.Metrics.ConsensusLagRounds().Set(float64(uint64(known) - uint64(top.RoundNumber())))
}

// commitLoop spawns the blocking commit task every time the consensus
// round advances, per spec 4.5 step 5 and design note "concurrent
// commit + advance": the committer owns its own extended view and is
// only ever fed new round slices, never shared mutable DAG state.
func (e *Engine) commitLoop(ctx context.Context) error {
	for {
		r, err := e.consensusRound.Next(ctx)
		if err != nil {
			return nil
		}
		e.commitRound.SetMax(r)

		res := e.deps.Committer.Commit()
		if res.HasGap {
			select {
			case e.out <- CommitResult{Kind: ResultNewStartAfterGap, Gap: res.NewStartAfterGap}:
			case <-ctx.Done():
				return nil
			}
		}
		for _, a := range res.Anchors {
			e.deps.Metrics.CommitAnchors().Inc()
			e.deps.Metrics.CommitHistoryPoints().Add(float64(len(a.History)))
			select {
			case e.out <- CommitResult{Kind: ResultNext, Anchor: a}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
