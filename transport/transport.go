// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport is the network boundary of the engine: it
// broadcasts points over a PUB/SUB fan-out and serves/answers
// point-by-id queries over a ROUTER/DEALER request-reply overlay,
// adapting the same PUB/SUB+ROUTER/DEALER shape the rest of the stack
// uses for gossip into a synchronous request/response contract the
// downloader needs.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/zmq4"

	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
)

// MessageType distinguishes the frame shapes this transport exchanges.
type MessageType string

const (
	// MsgBroadcastPoint gossips a newly produced or newly validated
	// point to every connected peer over PUB/SUB.
	MsgBroadcastPoint MessageType = "point"
	// MsgQueryRequest asks a specific peer for a point by id over DEALER.
	MsgQueryRequest MessageType = "query_req"
	// MsgQueryResponse answers a MsgQueryRequest over ROUTER.
	MsgQueryResponse MessageType = "query_resp"
	// MsgEndorseRequest asks a peer for its own signature over a point
	// it has already validated, collected by the point's author to
	// assemble the evidence its own next point's proof carries.
	MsgEndorseRequest MessageType = "endorse_req"
	// MsgEndorseResponse answers a MsgEndorseRequest over ROUTER.
	MsgEndorseResponse MessageType = "endorse_resp"
)

// wireMessage is the JSON envelope every frame is marshaled as. Point
// bodies are carried pre-encoded via transport.EncodePoint so a
// peer's author/round/digest are visible without decoding the whole
// point, mirroring the teacher transport's flat Message struct.
type wireMessage struct {
	Type          MessageType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to,omitempty"`
	CorrelationID uint64      `json:"cid,omitempty"`
	Round         uint32      `json:"round,omitempty"`
	Author        []byte      `json:"author,omitempty"`
	Digest        []byte      `json:"digest,omitempty"`
	RespKind      int         `json:"resp_kind,omitempty"`
	Point         []byte      `json:"point,omitempty"`
	Signature     []byte      `json:"sig,omitempty"`
	Found         bool        `json:"found,omitempty"`
	Timestamp     int64       `json:"timestamp"`
}

// PointHandler is invoked for every point received via broadcast. A
// query response whose correlation id has no waiting Query call is
// dropped and never reaches it.
type PointHandler func(p *point.Point)

// QueryHandler answers an inbound MsgQueryRequest with this node's own
// view of the requested point (typically broadcast.Responder.PointByID).
type QueryHandler func(id point.PointID) download.Response

// EndorseHandler answers an inbound MsgEndorseRequest with this node's
// own signature over id, if it has one (typically
// dag.Location.State().Signed() for the requested location).
type EndorseHandler func(id point.PointID) (point.Signature, bool)

// pendingQuery is a single in-flight Query awaiting its correlated
// response.
type pendingQuery struct {
	resp chan download.Response
}

// pendingEndorse is a single in-flight Endorse awaiting its correlated
// response.
type pendingEndorse struct {
	resp chan endorseResult
}

type endorseResult struct {
	sig   point.Signature
	found bool
}

// Transport is the ZMQ4-backed Dispatcher: it implements
// download.Dispatcher.Query for the downloader, and exposes Broadcast
// for the engine's own-point production and rebroadcast paths.
type Transport struct {
	self     point.PeerID
	schedule *peer.Schedule
	log      log.Logger
	basePort int

	ctx    context.Context
	cancel context.CancelFunc

	pub    zmq4.Socket
	sub    zmq4.Socket
	router zmq4.Socket

	mu       sync.RWMutex
	dealers  map[string]zmq4.Socket
	pending  map[uint64]*pendingQuery
	pendingE map[uint64]*pendingEndorse
	nextCID  uint64

	onPoint   PointHandler
	onQuery   QueryHandler
	onEndorse EndorseHandler

	wg sync.WaitGroup
}

var _ download.Dispatcher = (*Transport)(nil)

// NewTransport returns a Transport identified as self, binding its
// PUB and ROUTER sockets off basePort (PUB on basePort, ROUTER on
// basePort+1000, matching the teacher transport's port convention).
func NewTransport(ctx context.Context, self point.PeerID, schedule *peer.Schedule, basePort int, logger log.Logger) *Transport {
	tctx, cancel := context.WithCancel(ctx)
	return &Transport{
		self:     self,
		schedule: schedule,
		log:      logger,
		basePort: basePort,
		ctx:      tctx,
		cancel:   cancel,
		dealers:  make(map[string]zmq4.Socket),
		pending:  make(map[uint64]*pendingQuery),
		pendingE: make(map[uint64]*pendingEndorse),
	}
}

// OnPoint registers the callback invoked for every point this node
// receives via broadcast.
func (t *Transport) OnPoint(h PointHandler) { t.onPoint = h }

// OnQuery registers the callback that answers inbound point-by-id
// queries.
func (t *Transport) OnQuery(h QueryHandler) { t.onQuery = h }

// OnEndorse registers the callback that answers inbound requests for
// this node's own signature over a point it has validated.
func (t *Transport) OnEndorse(h EndorseHandler) { t.onEndorse = h }

// Start binds the PUB and ROUTER sockets and begins serving both loops.
func (t *Transport) Start() error {
	t.pub = zmq4.NewPub(t.ctx)
	if err := t.pub.Listen(fmt.Sprintf("tcp://0.0.0.0:%d", t.basePort)); err != nil {
		return fmt.Errorf("transport: bind pub: %w", err)
	}

	t.sub = zmq4.NewSub(t.ctx)
	if err := t.sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("transport: subscribe: %w", err)
	}

	t.router = zmq4.NewRouter(t.ctx)
	if err := t.router.Listen(fmt.Sprintf("tcp://0.0.0.0:%d", t.basePort+1000)); err != nil {
		return fmt.Errorf("transport: bind router: %w", err)
	}

	t.wg.Add(2)
	go t.subLoop()
	go t.routerLoop()
	return nil
}

// Stop tears down every socket and waits for both serving loops to exit.
func (t *Transport) Stop() {
	t.cancel()
	if t.pub != nil {
		t.pub.Close()
	}
	if t.sub != nil {
		t.sub.Close()
	}
	if t.router != nil {
		t.router.Close()
	}
	t.mu.Lock()
	for _, d := range t.dealers {
		d.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// ConnectPeer dials peerID's PUB and ROUTER endpoints and marks it
// Resolved in the schedule once connected.
func (t *Transport) ConnectPeer(peerID point.PeerID, host string, port int) error {
	addr := fmt.Sprintf("tcp://%s:%d", host, port)
	if err := t.sub.Dial(addr); err != nil {
		return fmt.Errorf("transport: dial sub %s: %w", peerID, err)
	}

	dealer := zmq4.NewDealer(t.ctx, zmq4.WithID(zmq4.SocketIdentity(t.self.String())))
	routerAddr := fmt.Sprintf("tcp://%s:%d", host, port+1000)
	if err := dealer.Dial(routerAddr); err != nil {
		return fmt.Errorf("transport: dial router %s: %w", peerID, err)
	}

	t.mu.Lock()
	t.dealers[peerID.String()] = dealer
	t.mu.Unlock()

	t.schedule.SetPeerState(peerID, peer.Resolved)
	return nil
}

// Broadcast publishes p to every subscribed peer over PUB.
func (t *Transport) Broadcast(p *point.Point) error {
	author := p.Body.Location.Author
	msg := wireMessage{
		Type:      MsgBroadcastPoint,
		From:      t.self.String(),
		Round:     uint32(p.Body.Location.Round),
		Author:    author[:],
		Digest:    p.Digest[:],
		Point:     EncodePoint(p),
		Timestamp: nowMillis(),
	}
	return t.send(t.pub, msg)
}

// Query implements download.Dispatcher: it asks peerID for id over its
// DEALER connection and blocks for a correlated response or ctx's
// deadline, whichever comes first.
func (t *Transport) Query(ctx context.Context, peerID point.PeerID, id point.PointID) (download.Response, error) {
	t.mu.RLock()
	dealer, ok := t.dealers[peerID.String()]
	t.mu.RUnlock()
	if !ok {
		return download.Response{}, fmt.Errorf("transport: no connection to peer %s", peerID)
	}

	cid := atomic.AddUint64(&t.nextCID, 1)
	pq := &pendingQuery{resp: make(chan download.Response, 1)}
	t.mu.Lock()
	t.pending[cid] = pq
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, cid)
		t.mu.Unlock()
	}()

	author := id.Location.Author
	digest := id.Digest
	msg := wireMessage{
		Type:          MsgQueryRequest,
		From:          t.self.String(),
		To:            peerID.String(),
		CorrelationID: cid,
		Round:         uint32(id.Location.Round),
		Author:        author[:],
		Digest:        digest[:],
		Timestamp:     nowMillis(),
	}
	if err := t.send(dealer, msg); err != nil {
		return download.Response{}, err
	}

	select {
	case resp := <-pq.resp:
		return resp, nil
	case <-ctx.Done():
		return download.Response{}, ctx.Err()
	}
}

// Endorse asks peerID for its own signature over id, blocking for a
// correlated response or ctx's deadline. found is false if peerID has
// not validated id (or has validated it but settled to reject it).
func (t *Transport) Endorse(ctx context.Context, peerID point.PeerID, id point.PointID) (point.Signature, bool, error) {
	t.mu.RLock()
	dealer, ok := t.dealers[peerID.String()]
	t.mu.RUnlock()
	if !ok {
		return point.Signature{}, false, fmt.Errorf("transport: no connection to peer %s", peerID)
	}

	cid := atomic.AddUint64(&t.nextCID, 1)
	pe := &pendingEndorse{resp: make(chan endorseResult, 1)}
	t.mu.Lock()
	t.pendingE[cid] = pe
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pendingE, cid)
		t.mu.Unlock()
	}()

	author := id.Location.Author
	digest := id.Digest
	msg := wireMessage{
		Type:          MsgEndorseRequest,
		From:          t.self.String(),
		To:            peerID.String(),
		CorrelationID: cid,
		Round:         uint32(id.Location.Round),
		Author:        author[:],
		Digest:        digest[:],
		Timestamp:     nowMillis(),
	}
	if err := t.send(dealer, msg); err != nil {
		return point.Signature{}, false, err
	}

	select {
	case res := <-pe.resp:
		return res.sig, res.found, nil
	case <-ctx.Done():
		return point.Signature{}, false, ctx.Err()
	}
}

func (t *Transport) send(sock zmq4.Socket, msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	return sock.Send(zmq4.NewMsg(data))
}

func (t *Transport) subLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		msg, err := t.sub.Recv()
		if err != nil {
			continue
		}
		var wm wireMessage
		if err := json.Unmarshal(msg.Bytes(), &wm); err != nil {
			continue
		}
		if wm.From == t.self.String() {
			continue
		}
		t.handle(wm, nil)
	}
}

func (t *Transport) routerLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		msg, err := t.router.Recv()
		if err != nil {
			continue
		}
		if len(msg.Frames) < 3 {
			continue
		}
		identity := msg.Frames[0]
		var wm wireMessage
		if err := json.Unmarshal(msg.Frames[2], &wm); err != nil {
			continue
		}
		t.handle(wm, identity)
	}
}

// handle dispatches one decoded frame. identity is the ROUTER frame's
// reply address, non-nil only for frames received on the router socket.
func (t *Transport) handle(wm wireMessage, identity []byte) {
	switch wm.Type {
	case MsgBroadcastPoint:
		p, err := DecodePoint(wm.Point)
		if err != nil {
			if t.log != nil {
				t.log.Warn("transport: dropping malformed broadcast", "from", wm.From, "err", err)
			}
			return
		}
		if t.onPoint != nil {
			t.onPoint(p)
		}

	case MsgQueryRequest:
		if t.onQuery == nil || identity == nil {
			return
		}
		id := point.PointID{Location: point.Location{Round: point.Round(wm.Round)}}
		copy(id.Location.Author[:], wm.Author)
		copy(id.Digest[:], wm.Digest)
		resp := t.onQuery(id)
		reply := wireMessage{
			Type:          MsgQueryResponse,
			From:          t.self.String(),
			CorrelationID: wm.CorrelationID,
			RespKind:      int(resp.Kind),
			Timestamp:     nowMillis(),
		}
		if resp.Point != nil {
			reply.Point = EncodePoint(resp.Point)
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = t.router.Send(zmq4.NewMsgFrom(identity, nil, data))

	case MsgQueryResponse:
		t.mu.RLock()
		pq, ok := t.pending[wm.CorrelationID]
		t.mu.RUnlock()
		if !ok {
			return
		}
		resp := download.Response{Kind: download.ResponseKind(wm.RespKind)}
		if len(wm.Point) > 0 {
			p, err := DecodePoint(wm.Point)
			if err == nil {
				resp.Point = p
			}
		}
		select {
		case pq.resp <- resp:
		default:
		}

	case MsgEndorseRequest:
		if t.onEndorse == nil || identity == nil {
			return
		}
		id := point.PointID{Location: point.Location{Round: point.Round(wm.Round)}}
		copy(id.Location.Author[:], wm.Author)
		copy(id.Digest[:], wm.Digest)
		sig, found := t.onEndorse(id)
		reply := wireMessage{
			Type:          MsgEndorseResponse,
			From:          t.self.String(),
			CorrelationID: wm.CorrelationID,
			Found:         found,
			Timestamp:     nowMillis(),
		}
		if found {
			reply.Signature = sig[:]
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = t.router.Send(zmq4.NewMsgFrom(identity, nil, data))

	case MsgEndorseResponse:
		t.mu.RLock()
		pe, ok := t.pendingE[wm.CorrelationID]
		t.mu.RUnlock()
		if !ok {
			return
		}
		res := endorseResult{found: wm.Found}
		if wm.Found {
			copy(res.sig[:], wm.Signature)
		}
		select {
		case pe.resp <- res:
		default:
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
