// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package verify

import (
	"context"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
)

// Downloader is the subset of the download package's Downloader the
// verifier needs: fetch a missing point by id, on behalf of a
// depending author. Declared here (rather than imported from
// download) so download may in turn depend on verify for re-checking
// peer responses without an import cycle.
type Downloader interface {
	Download(ctx context.Context, id point.PointID, depender point.PeerID) (*point.Point, error)
}

// Verifier recursively resolves a point's dependency graph into a
// settled DagPoint, applying the BFT admission rules of spec 4.1. It
// owns no mutable state of its own; every input is passed by
// reference, matching the original's "none" storage model for this
// component.
type Verifier struct {
	Schedule     *peer.Schedule
	Downloader   Downloader
	GenesisRound point.Round
	// DAGDepth caps recursive dependency resolution: a dependency whose
	// round falls at or below front's top minus DAGDepth is resolved to
	// NotFound rather than recursed into indefinitely, per
	// design note "hard cap recursion by trusting consensus at
	// r - DAG_DEPTH".
	DAGDepth uint32
}

// Validate resolves p's includes and witness edges (downloading and
// recursively validating any that are not already known to front),
// checks proof evidence and anchor-link corroboration, and returns the
// settled verdict. ownLoc is the Location p's own digest was inserted
// into by the caller (via Location.AddValidate): used only to detect
// whether this validator has observed an equivocation at p's own
// location, which downgrades an otherwise-Trusted verdict to
// Suspicious.
func (v *Verifier) Validate(ctx context.Context, p *point.Point, front *dag.Front, ownLoc *dag.Location) point.DagPoint {
	if p.Body.Location.Round == v.GenesisRound {
		return point.TrustedPoint(point.ValidPoint{Point: p})
	}

	includesSuspicious, includesOK := v.resolveEdges(ctx, p, front, p.Body.Includes, p.Body.Location.Round.Prev())
	witnessSuspicious, witnessOK := v.resolveEdges(ctx, p, front, p.Body.Witness, p.Body.Location.Round.Prev().Prev())
	if !includesOK || !witnessOK {
		return point.InvalidPoint()
	}

	if !v.evidenceOK(p, front) {
		return point.InvalidPoint()
	}

	if !v.anchorOK(ctx, p, front, p.Body.AnchorTrigger) || !v.anchorOK(ctx, p, front, p.Body.AnchorProof) {
		return point.InvalidPoint()
	}

	reach := point.Reachability{
		AnchorProofRound:   p.AnchorRound(p.Body.AnchorProof, v.GenesisRound),
		AnchorTriggerRound: p.AnchorRound(p.Body.AnchorTrigger, v.GenesisRound),
	}
	valid := point.ValidPoint{Point: p, Reachability: reach}

	if includesSuspicious || witnessSuspicious || equivocated(ownLoc) {
		return point.SuspiciousPoint(valid)
	}
	return point.TrustedPoint(valid)
}

// equivocated reports whether this validator has observed more than
// one version at p's own location: a second digest for the same
// (round, author) proves the author equivocated, and this validator
// must never sign either version, though both still count toward
// quorum if otherwise valid.
func equivocated(ownLoc *dag.Location) bool {
	if ownLoc == nil {
		return false
	}
	return len(ownLoc.Versions()) > 1
}

// resolveEdges resolves every entry of an includes/witness map to a
// DagPoint at the given round, downloading what is not already known.
// Returns ok=false if any edge fails to resolve to at least Suspicious
// authored by the claimed peer at the claimed round; suspicious=true if
// any edge itself settled Suspicious (which must propagate, since a
// point built on a suspicious dependency is no more trustworthy than
// that dependency).
func (v *Verifier) resolveEdges(ctx context.Context, p *point.Point, front *dag.Front, edges map[point.PeerID]point.Digest, round point.Round) (suspicious bool, ok bool) {
	for author, digest := range edges {
		dp, found := v.resolve(ctx, front, round, author, digest, p.Body.Location.Author)
		if !found || !dp.QuorumCountable() {
			return suspicious, false
		}
		if dp.Kind() == point.Suspicious {
			suspicious = true
		}
	}
	return suspicious, true
}

// resolve looks up (or downloads-and-recursively-validates) the
// version identified by (round, author, digest), returning its settled
// DagPoint; a download is requested on behalf of depender. A round at
// or below the front's current top minus DAGDepth is resolved to
// NotFound without attempting a download or recursing further,
// trusting that consensus has already settled it.
func (v *Verifier) resolve(ctx context.Context, front *dag.Front, round point.Round, author point.PeerID, digest point.Digest, depender point.PeerID) (point.DagPoint, bool) {
	if top, ok := front.Top(); ok {
		if cutoff, hasCutoff := subCap(top.RoundNumber(), v.DAGDepth); hasCutoff && round <= cutoff {
			return point.NotFoundPoint(), true
		}
	}

	dagRound, ok := front.Round(round)
	if !ok {
		return point.NotFoundPoint(), true
	}
	loc := dagRound.EnsureLocation(author)

	id := point.PointID{Location: point.Location{Round: round, Author: author}, Digest: digest}
	fut := loc.AddDependency(digest, func() point.DagPoint {
		downloaded, err := v.Downloader.Download(ctx, id, depender)
		if err != nil {
			return point.NotFoundPoint()
		}
		if err := Verify(downloaded, v.Schedule, v.GenesisRound); err != nil {
			if err == ErrIllFormed {
				return point.IllFormedPoint()
			}
			return point.InvalidPoint()
		}
		return v.Validate(ctx, downloaded, front, loc)
	})

	dp, err := fut.Wait(ctx)
	if err != nil {
		return point.DagPoint{}, false
	}
	return dp, true
}

// evidenceOK checks that, if p claims a proof of its own previous-round
// point, that proof carries >= 2F distinct non-author signatures each
// verifying over the proven digest. F is derived from the validator
// set active at p's previous round.
func (v *Verifier) evidenceOK(p *point.Point, front *dag.Front) bool {
	if p.Body.Proof == nil {
		return true
	}
	prevRound := p.Body.Location.Round.Prev()
	peers := v.Schedule.PeersFor(prevRound)
	f := (len(peers) - 1) / 3
	if f < 0 {
		f = 0
	}

	count := 0
	for signer, sig := range p.Body.Proof.Evidence {
		if signer == p.Body.Location.Author {
			return false
		}
		if !sig.Verifies(signer, p.Body.Proof.Digest) {
			return false
		}
		count++
	}
	return count >= 2*f
}

// anchorOK checks that link's target round resolves to an existing
// valid point, and — for Indirect links — that the named Through edge
// corroborates the same final destination the neighbor itself reports.
func (v *Verifier) anchorOK(ctx context.Context, p *point.Point, front *dag.Front, link point.Link) bool {
	if link.Kind == point.LinkToSelf {
		return true
	}

	through := link.Through
	edgeRound := p.Body.Location.Round.Prev()
	edges := p.Body.Includes
	if !through.Includes {
		edgeRound = p.Body.Location.Round.Prev().Prev()
		edges = p.Body.Witness
	}
	digest, ok := edges[through.Peer]
	if !ok {
		return false
	}

	dp, found := v.resolve(ctx, front, edgeRound, through.Peer, digest, p.Body.Location.Author)
	if !found || !dp.QuorumCountable() {
		return false
	}
	if link.Kind == point.LinkDirect {
		return true
	}

	valid, ok := dp.Valid()
	if !ok {
		return false
	}
	var neighborField point.Link
	if isTrigger(p, link) {
		neighborField = valid.Point.Body.AnchorTrigger
	} else {
		neighborField = valid.Point.Body.AnchorProof
	}
	return valid.Point.AnchorID(neighborField) == link.To
}

func isTrigger(p *point.Point, link point.Link) bool {
	return link.Equal(p.Body.AnchorTrigger)
}

// subCap subtracts n from r, reporting false instead of underflowing
// if the result would fall below round zero.
func subCap(r point.Round, n uint32) (point.Round, bool) {
	if uint64(r) < uint64(n) {
		return 0, false
	}
	return point.Round(uint64(r) - uint64(n)), true
}
