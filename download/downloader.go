// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package download

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/verify"
)

// downloadPeers is the base fan-out width per retry attempt: attempt 0
// queries downloadPeers candidates, attempt 1 queries downloadPeers^2,
// and so on, capped at the number of currently-queryable peers.
const downloadPeers = 2

// interval is how often a task re-evaluates its peer set and fans out
// fresh queries even without a triggering event, so a task is never
// stuck solely on timeouts from peers that never reply.
const interval = 2 * time.Second

// ErrIllFormedDownload is returned by Download when a peer's response
// verifies its signature but fails structural well-formedness: the
// caller should treat this point as permanently Invalid, not retry.
var ErrIllFormedDownload = errors.New("download: peer returned an ill-formed point")

// ErrNotFound is returned by Download once a majority of the
// queryable validator set (excluding this node) has reliably reported
// not holding the point.
var ErrNotFound = errors.New("download: point not found by quorum of peers")

// ResponseKind distinguishes a definitive peer answer from a
// transient one that should not count toward the not-found quorum.
type ResponseKind int

const (
	// TryLater means the peer could not answer right now (e.g. its own
	// round front has not reached the requested round yet); it does not
	// count as evidence the point does not exist.
	TryLater ResponseKind = iota
	// Defined means the peer conclusively answered: Point is nil if the
	// peer does not have it, non-nil if it does.
	Defined
)

// Response is a single peer's answer to a point-by-id query.
type Response struct {
	Kind  ResponseKind
	Point *point.Point
}

// Dispatcher is the network-facing half of the downloader: it performs
// the actual point-by-id request/response round trip against a single
// peer. Declared here, rather than imported from transport, so that
// transport may depend on download's types without an import cycle.
type Dispatcher interface {
	Query(ctx context.Context, peer point.PeerID, id point.PointID) (Response, error)
}

// Kind distinguishes the three terminal outcomes a download task can
// reach, mirroring the three non-Suspicious, non-Invalid DagPoint
// states a network round trip can actually produce.
type Kind int

const (
	// NotFound means a quorum of peers reliably reported not holding the
	// point.
	NotFound Kind = iota
	// Verified means a peer returned the point and it passed Verify.
	Verified
	// IllFormed means a peer returned the point but it failed
	// well-formedness.
	IllFormed
)

// Result is the outcome of a completed download task.
type Result struct {
	Kind  Kind
	Point *point.Point
}

// Downloader resolves individual points by id against the current
// validator set, applying Verify to every peer response before
// accepting it. It is the network half of dependency resolution;
// verify.Verifier.Validate calls into it (through the verify.Downloader
// interface) to recursively settle the points a point depends on.
type Downloader struct {
	dispatcher   Dispatcher
	schedule     *peer.Schedule
	genesisRound point.Round
	lim          *limiter
}

// NewDownloader returns a Downloader that allows at most
// concurrentDownloads tasks to run at once.
func NewDownloader(dispatcher Dispatcher, schedule *peer.Schedule, genesisRound point.Round, concurrentDownloads int) *Downloader {
	return &Downloader{
		dispatcher:   dispatcher,
		schedule:     schedule,
		genesisRound: genesisRound,
		lim:          newLimiter(concurrentDownloads),
	}
}

// Download is the single-depender entry point verify.Verifier uses: it
// runs a full download task for id on behalf of depender and blocks
// until the task settles or ctx is cancelled.
func (d *Downloader) Download(ctx context.Context, id point.PointID, depender point.PeerID) (*point.Point, error) {
	dependers := make(chan point.PeerID, 1)
	dependers <- depender
	close(dependers)

	res := d.Run(ctx, id, dependers, nil)
	switch res.Kind {
	case Verified:
		return res.Point, nil
	case IllFormed:
		return res.Point, ErrIllFormedDownload
	default:
		return nil, ErrNotFound
	}
}

// Run executes a full download task for id. dependers delivers
// additional authors who also depend on id as they're discovered (e.g.
// other local points referencing the same dependency); verifiedBroadcast
// short-circuits the task the moment id is observed via normal gossip,
// without needing a dedicated point-by-id round trip. Either channel
// may be nil.
func (d *Downloader) Run(ctx context.Context, id point.PointID, dependers <-chan point.PeerID, verifiedBroadcast <-chan *point.Point) Result {
	if err := d.lim.enter(ctx, id.Location.Round); err != nil {
		return Result{Kind: NotFound}
	}
	defer d.lim.exit()

	t := newTask(d, id)
	updates := d.schedule.Updates()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.downloadRandom()

	for {
		if res, done := t.pollOnce(verifiedBroadcast, dependers, updates); done {
			return res
		}

		select {
		case p, ok := <-verifiedBroadcast:
			if ok && p != nil {
				return Result{Kind: Verified, Point: p}
			}
		case a, ok := <-dependers:
			if ok {
				t.addDepender(a)
			}
		case u, ok := <-updates:
			if ok {
				t.applyUpdate(u)
			}
		case resp := <-t.responses:
			if res, done := t.handleResponse(resp); done {
				return res
			}
			if !t.shallContinue() {
				return Result{Kind: NotFound}
			}
		case <-ticker.C:
			t.downloadRandom()
		case <-ctx.Done():
			return Result{Kind: NotFound}
		}
	}
}

// pollOnce drains whatever is already available across every input in
// priority order (verified broadcast first, then new dependers, then
// peer connectivity updates, then completed queries) without blocking,
// so a resolved answer is never left waiting behind an unrelated
// channel the blocking select happens to pick first.
func (t *task) pollOnce(verifiedBroadcast <-chan *point.Point, dependers <-chan point.PeerID, updates <-chan peer.Update) (Result, bool) {
	for {
		select {
		case p, ok := <-verifiedBroadcast:
			if ok && p != nil {
				return Result{Kind: Verified, Point: p}, true
			}
			continue
		default:
		}
		select {
		case a, ok := <-dependers:
			if ok {
				t.addDepender(a)
				continue
			}
		default:
		}
		select {
		case u, ok := <-updates:
			if ok {
				t.applyUpdate(u)
				continue
			}
		default:
		}
		select {
		case resp := <-t.responses:
			res, done := t.handleResponse(resp)
			if done {
				return res, true
			}
			if !t.shallContinue() {
				return Result{Kind: NotFound}, true
			}
			continue
		default:
		}
		return Result{}, false
	}
}

type peerStatus struct {
	state         peer.State
	failedQueries int
	isDepender    bool
	isInFlight    bool
}

type response struct {
	peer point.PeerID
	resp Response
	err  error
}

// task is the per-point state machine: which peers remain undone, how
// many times each has failed, and which are already in flight.
type task struct {
	d         *Downloader
	ctx       context.Context
	id        point.PointID
	undone    map[point.PeerID]*peerStatus
	peerCount int

	reliablyNotFound int
	attempt          int
	responses        chan response
}

func newTask(d *Downloader, id point.PointID) *task {
	peers := d.schedule.PeersFor(id.Location.Round.Next())
	undone := make(map[point.PeerID]*peerStatus, len(peers)+1)
	for _, p := range peers {
		undone[p] = &peerStatus{state: d.schedule.PeerState(p)}
	}
	if _, ok := undone[id.Location.Author]; !ok {
		undone[id.Location.Author] = &peerStatus{state: d.schedule.PeerState(id.Location.Author)}
	}
	return &task{
		d:         d,
		ctx:       context.Background(),
		id:        id,
		undone:    undone,
		peerCount: len(undone),
		responses: make(chan response, len(undone)+1),
	}
}

func (t *task) addDepender(p point.PeerID) {
	status, ok := t.undone[p]
	if !ok || status.isDepender {
		return
	}
	status.isDepender = true
	if !status.isInFlight && status.state == peer.Resolved && status.failedQueries == 0 {
		t.downloadOne(p)
	}
}

func (t *task) applyUpdate(u peer.Update) {
	status, ok := t.undone[u.Peer]
	if !ok {
		return
	}
	shouldFetch := !status.isInFlight && status.isDepender && status.failedQueries == 0 &&
		status.state == peer.Unknown && u.State == peer.Resolved
	status.state = u.State
	if shouldFetch {
		t.downloadOne(u.Peer)
	}
}

// downloadRandom fans out to a fresh batch of candidates, widening the
// fan-out geometrically with each attempt, biased toward peers that
// have never failed and are known dependers of this point.
func (t *task) downloadRandom() {
	type candidate struct {
		peer        point.PeerID
		failed      int
		notDepender int
		tie         int
	}
	var candidates []candidate
	for p, s := range t.undone {
		if s.state == peer.Resolved && !s.isInFlight {
			nd := 0
			if !s.isDepender {
				nd = 1
			}
			candidates = append(candidates, candidate{peer: p, failed: s.failedQueries, notDepender: nd, tie: rand.Int()})
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].failed != candidates[j].failed {
			return candidates[i].failed < candidates[j].failed
		}
		if candidates[i].notDepender != candidates[j].notDepender {
			return candidates[i].notDepender < candidates[j].notDepender
		}
		return candidates[i].tie < candidates[j].tie
	})

	count := downloadPeers
	for i := 0; i < t.attempt; i++ {
		count *= downloadPeers
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	for _, c := range candidates[:count] {
		t.downloadOne(c.peer)
	}
	t.attempt++
}

func (t *task) downloadOne(p point.PeerID) {
	status := t.undone[p]
	status.isInFlight = true
	go func() {
		resp, err := t.d.dispatcher.Query(t.ctx, p, t.id)
		t.responses <- response{peer: p, resp: resp, err: err}
	}()
}

// handleResponse folds one peer's answer into task state. Returns a
// terminal Result and done=true the moment the answer itself settles
// the download (a verified point, or an ill-formed one); any other
// outcome just narrows the undone set and returns done=false.
func (t *task) handleResponse(r response) (Result, bool) {
	status, ok := t.undone[r.peer]
	if !ok {
		return Result{}, false
	}

	if r.err != nil || r.resp.Kind == TryLater {
		status.isInFlight = false
		status.failedQueries++
		t.d.schedule.RecordFailedQuery(r.peer)
		return Result{}, false
	}

	delete(t.undone, r.peer)

	if r.resp.Point == nil {
		t.reliablyNotFound++
		return Result{}, false
	}

	got := r.resp.Point
	if got.ID() != t.id {
		return Result{}, false
	}
	if err := verify.Verify(got, t.d.schedule, t.d.genesisRound); err != nil {
		if err == verify.ErrBadSig {
			return Result{}, false
		}
		return Result{Kind: IllFormed, Point: got}, true
	}
	return Result{Kind: Verified, Point: got}, true
}

// shallContinue reports whether the task should keep running: false
// once a majority of the queryable set (excluding this node) has
// reliably denied holding the point. Otherwise, if nothing is in
// flight, it fans out another round before continuing.
func (t *task) shallContinue() bool {
	if t.reliablyNotFound >= peer.MajorityOfOthers(t.peerCount) {
		return false
	}
	if !t.anyInFlight() {
		t.downloadRandom()
	}
	return true
}

func (t *task) anyInFlight() bool {
	for _, s := range t.undone {
		if s.isInFlight {
			return true
		}
	}
	return false
}
