// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commit

import (
	"sort"

	"github.com/luxfi/mempool/point"
)

type causalEdge struct {
	round  point.Round
	author point.PeerID
	digest point.Digest
}

// causalHistory walks anchor's includes ∪ witness transitively,
// deterministically ordered by (round asc, author asc), stopping at
// any location already recorded in c.committed (the previously
// committed frontier) or at genesis (which carries no edges of its
// own).
func (c *Committer) causalHistory(anchor *point.Point) []PointInfo {
	visited := make(map[point.Location]bool)
	var frontier []causalEdge
	frontier = appendEdges(frontier, anchor.Body.Location.Round, anchor.Body.Includes, anchor.Body.Witness)

	var history []PointInfo
	for len(frontier) > 0 {
		e := frontier[0]
		frontier = frontier[1:]

		loc := point.Location{Round: e.round, Author: e.author}
		if visited[loc] {
			continue
		}
		visited[loc] = true
		if prev, done := c.committed[loc]; done && prev == e.digest {
			continue
		}

		rnd, ok := c.front.Round(e.round)
		if !ok {
			continue
		}
		dloc, ok := rnd.Location(e.author)
		if !ok {
			continue
		}
		fut, ok := dloc.Versions()[e.digest]
		if !ok {
			continue
		}
		dp, ok := fut.Peek()
		if !ok {
			continue
		}
		valid, ok := dp.Valid()
		if !ok {
			continue
		}

		history = append(history, PointInfo{Round: e.round, Author: e.author, Digest: e.digest, Point: valid.Point})
		frontier = appendEdges(frontier, e.round, valid.Point.Body.Includes, valid.Point.Body.Witness)
	}

	sort.Slice(history, func(i, j int) bool {
		if history[i].Round != history[j].Round {
			return history[i].Round < history[j].Round
		}
		return lessPeer(history[i].Author, history[j].Author)
	})
	return history
}

// appendEdges queues includes (round-1) and witness (round-2) edges of
// a point at round, guarding against underflow below genesis: a point
// whose round is too low to have a round-1 or round-2 predecessor
// simply contributes no edges at that depth, matching genesis points'
// well-formedness rule that they carry none at all.
func appendEdges(frontier []causalEdge, round point.Round, includes, witness map[point.PeerID]point.Digest) []causalEdge {
	if r, ok := safePrev(round, 1); ok {
		for author, digest := range includes {
			frontier = append(frontier, causalEdge{round: r, author: author, digest: digest})
		}
	}
	if r, ok := safePrev(round, 2); ok {
		for author, digest := range witness {
			frontier = append(frontier, causalEdge{round: r, author: author, digest: digest})
		}
	}
	return frontier
}

func safePrev(r point.Round, n int) (point.Round, bool) {
	if uint64(r) < uint64(n) {
		return 0, false
	}
	return point.Round(uint64(r) - uint64(n)), true
}
