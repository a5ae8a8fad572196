// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/store"
)

// Responder answers peers' point-by-id queries from whatever this node
// currently holds: the live DAG front first, falling back to the
// persistent store for rounds the front has already dropped.
type Responder struct {
	front *dag.Front
	store store.Store
}

// NewResponder returns a Responder backed by front and st.
func NewResponder(front *dag.Front, st store.Store) *Responder {
	return &Responder{front: front, store: st}
}

// PointByID answers one query. It replies TryLater while the DAG's
// front has not yet reached the requested round (so the peer retries
// rather than counting this as a reliable not-found), Defined(point)
// or Defined(nil) once the round is in reach (live or archived), and
// falls back to the persistent store for rounds below the front's
// current bottom.
func (r *Responder) PointByID(id point.PointID) download.Response {
	if top, ok := r.front.Top(); ok && id.Location.Round > top.RoundNumber() {
		return download.Response{Kind: download.TryLater}
	}

	if rnd, ok := r.front.Round(id.Location.Round); ok {
		if loc, ok := rnd.Location(id.Location.Author); ok {
			if fut, ok := loc.Versions()[id.Digest]; ok {
				dp, done := fut.Peek()
				if !done {
					return download.Response{Kind: download.TryLater}
				}
				if valid, ok := dp.Valid(); ok {
					return download.Response{Kind: download.Defined, Point: valid.Point}
				}
				return download.Response{Kind: download.Defined, Point: nil}
			}
		}
		return download.Response{Kind: download.Defined, Point: nil}
	}

	info, err := r.store.Get(id.Location.Round, id.Location.Author, id.Digest)
	if err != nil {
		return download.Response{Kind: download.Defined, Point: nil}
	}
	return download.Response{Kind: download.Defined, Point: info.Point}
}
