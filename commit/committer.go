// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package commit turns DAG depth into a linear anchor history: it
// elects anchors deterministically from a round's leader schedule,
// waits for sufficient certification depth above a candidate, then
// walks its causal history in deterministic (round, author) order.
package commit

import (
	"sort"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/point"
)

// PointInfo is the minimal, self-contained view of a committed point
// the consumer needs: enough to reconstruct ordering without holding
// onto the full DAG.
type PointInfo struct {
	Round  point.Round
	Author point.PeerID
	Digest point.Digest
	Point  *point.Point
}

// AnchorData is one committed anchor together with its deterministically
// ordered causal history, the unit emitted to the consensus consumer.
type AnchorData struct {
	Anchor  PointInfo
	History []PointInfo
}

// Result reports what happened in one commit() call: either nothing
// new was ready, an anchor committed, or the committer had to jump the
// bottom of its view forward past a gap (the engine raced ahead of the
// commit task by more than the retained window).
type Result struct {
	Anchors          []AnchorData
	NewStartAfterGap point.Round
	HasGap           bool
}

// Committer owns a separate, lagging view of the DAG front used only
// by the commit task: the engine may extend or prune its own front
// concurrently, so the committer's view is extended explicitly via
// ExtendFromAhead rather than shared.
type Committer struct {
	front         *dag.Front
	commitHistory uint32
	// committed records the last-committed PointID at each (round,
	// author) already emitted, so History never re-walks into already
	// committed territory — the "stop at previously committed frontier"
	// rule of spec 4.4.
	committed map[point.Location]point.Digest
}

// NewCommitter returns a Committer rooted at front, requiring
// commitHistoryRounds of certification depth before confirming an
// anchor.
func NewCommitter(front *dag.Front, commitHistoryRounds uint32) *Committer {
	return &Committer{
		front:         front,
		commitHistory: commitHistoryRounds,
		committed:     make(map[point.Location]point.Digest),
	}
}

// ExtendFromAhead splices additional front rounds onto the committer's
// own view when the engine has advanced past it.
func (c *Committer) ExtendFromAhead(rounds []*dag.Round) {
	c.front.ExtendFromAhead(rounds)
}

// Commit runs one pass of the commit algorithm: scans backward from
// the top of the committer's view, stopping at the first anchor it has
// already committed, collects every fully-confirmed anchor not yet
// committed together with its causal history, and emits them oldest
// first. It is safe, and expected, to call repeatedly as the front
// advances; a call that finds nothing ready returns a zero Result.
func (c *Committer) Commit() Result {
	top, ok := c.front.Top()
	if !ok {
		return Result{}
	}
	bottom, _ := c.front.Bottom()

	var anchors []AnchorData
	for r := top.RoundNumber(); r > bottom.RoundNumber(); r = r.Prev() {
		rnd, ok := c.front.Round(r)
		if !ok {
			continue
		}
		leader, lok := c.leaderAt(rnd)
		if !lok {
			continue
		}
		pt, digest, found := c.selfAnchorPoint(rnd, leader)
		if !found {
			continue
		}
		loc := point.Location{Round: r, Author: leader}
		if prev, done := c.committed[loc]; done && prev == digest {
			break // already committed at or below this point; nothing new above
		}
		if !c.certified(r, top.RoundNumber()) {
			continue
		}

		history := c.causalHistory(pt)
		anchorInfo := PointInfo{Round: r, Author: leader, Digest: digest, Point: pt}
		anchors = append(anchors, AnchorData{Anchor: anchorInfo, History: history})
		c.committed[loc] = digest
		for _, h := range history {
			c.committed[point.Location{Round: h.Round, Author: h.Author}] = h.Digest
		}
	}

	// anchors were discovered scanning backward; emit oldest first for
	// strict round-monotonic order.
	for i, j := 0, len(anchors)-1; i < j; i, j = i+1, j-1 {
		anchors[i], anchors[j] = anchors[j], anchors[i]
	}

	res := Result{Anchors: anchors}
	if len(anchors) == 0 {
		return res
	}

	previousTop := top.RoundNumber()
	newBottom := anchors[len(anchors)-1].Anchor.Round
	c.front.SetBottom(newBottom)
	if newBottom > previousTop {
		res.HasGap = true
		res.NewStartAfterGap = newBottom
	}
	return res
}

// certified reports whether round r has accumulated commitHistory
// rounds of certification depth below the view's current top, i.e.
// enough later rounds exist above r that >= 2F+1 of their points
// transitively include it by virtue of ordinary DAG inclusion.
func (c *Committer) certified(r, top point.Round) bool {
	return uint64(top)-uint64(r) >= uint64(c.commitHistory)
}

// leaderAt returns the round's deterministic leader: the peer at
// index (round mod peer count) of the round's sorted validator set.
func (c *Committer) leaderAt(rnd *dag.Round) (point.PeerID, bool) {
	peers := rnd.Peers()
	if len(peers) == 0 {
		return point.PeerID{}, false
	}
	sorted := make([]point.PeerID, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return lessPeer(sorted[i], sorted[j]) })
	idx := int(uint64(rnd.RoundNumber()) % uint64(len(sorted)))
	return sorted[idx], true
}

// selfAnchorPoint returns the leader's point at this round if it
// settled Trusted or Suspicious and carries anchor_proof=ToSelf — the
// confirmed-anchor marker of spec 4.4. This is decided from the DAG's
// settled verdict for the leader's location, not from whether this
// node itself signed the point: a node must be able to commit anchors
// it never endorsed, or it could only ever commit the anchors it
// leads itself.
func (c *Committer) selfAnchorPoint(rnd *dag.Round, leader point.PeerID) (*point.Point, point.Digest, bool) {
	loc, ok := rnd.Location(leader)
	if !ok {
		return nil, point.Digest{}, false
	}
	verdict, ok := loc.State().First()
	if !ok || !verdict.QuorumCountable() {
		return nil, point.Digest{}, false
	}
	valid, ok := verdict.Valid()
	if !ok || valid.Point == nil {
		return nil, point.Digest{}, false
	}
	if valid.Point.Body.AnchorProof.Kind != point.LinkToSelf {
		return nil, point.Digest{}, false
	}
	return valid.Point, valid.Point.Digest, true
}

func lessPeer(a, b point.PeerID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
