// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command mempool-node wires the consensus core packages into a
// runnable process: it derives this node's genesis-bound
// configuration, stands up storage, transport, and the engine, and
// prints every committed anchor to stdout. It exposes one command with
// a handful of flags, not a command tree, so it is built on stdlib
// flag rather than the cobra command tree the teacher's multi-command
// cmd/consensus binary needs.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/log"

	"github.com/luxfi/mempool/broadcast"
	"github.com/luxfi/mempool/commit"
	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/download"
	"github.com/luxfi/mempool/engine"
	"github.com/luxfi/mempool/inputbuffer"
	"github.com/luxfi/mempool/metrics"
	"github.com/luxfi/mempool/mpconfig"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
	"github.com/luxfi/mempool/store"
	"github.com/luxfi/mempool/transport"
	"github.com/luxfi/mempool/verify"
)

const concurrentDownloads = 64

func main() {
	var (
		network  = flag.String("network", "local", "genesis/parameter preset: mainnet, testnet, or local")
		selfHex  = flag.String("self", "", "this node's 32-byte public key, hex-encoded (required)")
		keyHex   = flag.String("key", "", "this node's 64-byte Ed25519 private key, hex-encoded (required)")
		peersRaw = flag.String("peers", "", "comma-separated validator public keys, hex-encoded, including self")
		basePort = flag.Int("port", 27000, "base PUB/ROUTER port this node listens on")
		connect  = flag.String("connect", "", "comma-separated peer@host:port entries to dial on startup")
	)
	flag.Parse()

	if err := run(*network, *selfHex, *keyHex, *peersRaw, *basePort, *connect); err != nil {
		fmt.Fprintln(os.Stderr, "mempool-node:", err)
		os.Exit(1)
	}
}

func run(network, selfHex, keyHex, peersRaw string, basePort int, connect string) error {
	self, err := parsePeerID(selfHex)
	if err != nil {
		return fmt.Errorf("parsing -self: %w", err)
	}
	key, err := parsePrivateKey(keyHex)
	if err != nil {
		return fmt.Errorf("parsing -key: %w", err)
	}
	peers, err := parsePeerList(peersRaw)
	if err != nil {
		return fmt.Errorf("parsing -peers: %w", err)
	}

	cfg, err := presetConfig(network)
	if err != nil {
		return err
	}
	cached, err := mpconfig.Init(cfg)
	if err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	logger := log.NewNoOpLogger()

	schedule := peer.NewSchedule()
	schedule.SetEpoch(peers, cached.Config.Genesis.Round, true)

	reg := prometheus.NewRegistry()
	mtr, err := metrics.NewMetrics("mempool", reg)
	if err != nil {
		return fmt.Errorf("building metrics: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr := transport.NewTransport(ctx, self, schedule, basePort, logger)
	if err := tr.Start(); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer tr.Stop()

	if err := dialPeers(tr, schedule, connect); err != nil {
		return fmt.Errorf("dialing peers: %w", err)
	}

	dl := download.NewDownloader(tr, schedule, cached.Config.Genesis.Round, concurrentDownloads)
	vf := &verify.Verifier{
		Schedule:     schedule,
		Downloader:   dl,
		GenesisRound: cached.Config.Genesis.Round,
		DAGDepth:     cached.Config.Consensus.MaxConsensusLagRounds,
	}

	front := dag.NewFront()
	committer := commit.NewCommitter(front, cached.Config.Consensus.CommitHistoryRounds)

	st := store.NewMemory()
	buf := inputbuffer.NewFIFO(cached.Config.Consensus.PayloadBufferBytes)

	eng, err := engine.New(ctx, engine.Deps{
		Front:      front,
		Committer:  committer,
		Schedule:   schedule,
		Downloader: dl,
		Verifier:   vf,
		Dispatcher: tr,
		Buffer:     buf,
		Store:      st,
		Metrics:    mtr,
		Cached:     cached,
		Self:       self,
		Key:        key,
		Log:        logger,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	filter := broadcast.NewFilter(cached.Config.Consensus.MaxConsensusLagRounds, cached.Config.Node.CacheFutureBroadcastsRounds, cached.Config.Consensus.DeduplicateRounds)
	responder := broadcast.NewResponder(front, st)
	wireFilter(ctx, tr, filter, responder, eng, front)

	go printAnchors(eng)

	return eng.Run(ctx)
}

// wireFilter connects inbound transport traffic to the admission
// filter and the point-by-id responder: every broadcast point is
// admitted or cached before it reaches the DAG, and every query is
// answered from whatever the front or store currently has. Endorse
// requests are answered from this node's own settled signing decision
// for the requested location, if any.
func wireFilter(ctx context.Context, tr *transport.Transport, filter *broadcast.Filter, responder *broadcast.Responder, eng *engine.Engine, front *dag.Front) {
	tr.OnPoint(func(p *point.Point) {
		current := point.Round(0)
		if top, ok := front.Top(); ok {
			current = top.RoundNumber()
		}
		switch filter.Admit(p, current) {
		case broadcast.Admitted:
			eng.ObserveRound(p.Body.Location.Round)
			eng.AdmitPoint(ctx, p)
		case broadcast.Cached:
			eng.ObserveRound(p.Body.Location.Round)
		}
	})
	tr.OnQuery(func(id point.PointID) download.Response {
		return responder.PointByID(id)
	})
	tr.OnEndorse(func(id point.PointID) (point.Signature, bool) {
		rnd, ok := front.Round(id.Location.Round)
		if !ok {
			return point.Signature{}, false
		}
		loc, ok := rnd.Location(id.Location.Author)
		if !ok {
			return point.Signature{}, false
		}
		signed, ok, _ := loc.State().Signed()
		if !ok {
			return point.Signature{}, false
		}
		valid, ok := loc.State().SignedPoint(signed.At)
		if !ok || valid.Point.Digest != id.Digest {
			return point.Signature{}, false
		}
		return signed.With, true
	})
}

// printAnchors drains the engine's committed-output stream to stdout,
// the minimal consumer this demo binary needs; a real node would feed
// this into block collation instead.
func printAnchors(eng *engine.Engine) {
	for res := range eng.Output() {
		switch res.Kind {
		case engine.ResultNext:
			author := res.Anchor.Anchor.Author
			fmt.Printf("anchor round=%s author=%s digest=%s history=%d\n",
				res.Anchor.Anchor.Round, hex.EncodeToString(author[:]), res.Anchor.Anchor.Digest, len(res.Anchor.History))
		case engine.ResultNewStartAfterGap:
			fmt.Printf("gap: resuming from round=%s\n", res.Gap)
		}
	}
}

func presetConfig(network string) (mpconfig.Config, error) {
	switch network {
	case "mainnet":
		return mpconfig.Mainnet(), nil
	case "testnet":
		return mpconfig.Testnet(), nil
	case "local", "":
		return mpconfig.Local(), nil
	default:
		return mpconfig.Config{}, fmt.Errorf("unknown -network %q (want mainnet, testnet, or local)", network)
	}
}

func parsePeerID(s string) (point.PeerID, error) {
	var id point.PeerID
	if s == "" {
		return id, fmt.Errorf("required")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func parsePrivateKey(s string) (ed25519.PrivateKey, error) {
	if s == "" {
		return nil, fmt.Errorf("required")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func parsePeerList(s string) ([]point.PeerID, error) {
	if s == "" {
		return nil, fmt.Errorf("required")
	}
	var out []point.PeerID
	for _, entry := range strings.Split(s, ",") {
		id, err := parsePeerID(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", entry, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// dialPeers connects to every peer@host:port entry in connect, marking
// each Resolved in schedule so the downloader may query it immediately
// instead of waiting for it to dial in first.
func dialPeers(tr *transport.Transport, schedule *peer.Schedule, connect string) error {
	if connect == "" {
		return nil
	}
	for _, entry := range strings.Split(connect, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		at := strings.LastIndex(entry, "@")
		if at < 0 {
			return fmt.Errorf("entry %q: want peer@host:port", entry)
		}
		id, err := parsePeerID(entry[:at])
		if err != nil {
			return fmt.Errorf("entry %q: %w", entry, err)
		}
		hostPort := entry[at+1:]
		col := strings.LastIndex(hostPort, ":")
		if col < 0 {
			return fmt.Errorf("entry %q: want host:port", entry)
		}
		port, err := strconv.Atoi(hostPort[col+1:])
		if err != nil {
			return fmt.Errorf("entry %q: bad port: %w", entry, err)
		}
		if err := tr.ConnectPeer(id, hostPort[:col], port); err != nil {
			return fmt.Errorf("connecting to %q: %w", entry, err)
		}
		schedule.SetPeerState(id, peer.Resolved)
	}
	return nil
}
