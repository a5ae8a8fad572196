// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpconfig

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// OverlayID is a BLAKE3 hash over the exact set of configuration
// fields that affect protocol behavior. Two nodes computing different
// OverlayIDs are running incompatible configurations and must never
// accept each other's points: the value doubles as the network's
// identity tag at the transport layer.
type OverlayID [32]byte

func (o OverlayID) String() string {
	return hex.EncodeToString(o[:])
}

// writeU128BE appends v as a 16-byte big-endian integer, matching the
// original derivation's use of u128 for every hashed field regardless
// of the field's native width.
func writeU128BE(h *blake3.Hasher, v uint64) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[8:], v)
	h.Write(buf[:])
}

// DeriveOverlayID hashes the protocol-affecting fields of cfg, in the
// fixed order the original implementation defines, into an OverlayID.
func DeriveOverlayID(cfg Config) OverlayID {
	h := blake3.New()
	writeU128BE(h, uint64(cfg.Genesis.Round))
	writeU128BE(h, cfg.Genesis.UnixTimeMillis)
	writeU128BE(h, cfg.Consensus.ClockSkewMillis)
	writeU128BE(h, uint64(cfg.Consensus.PayloadBatchBytes))
	writeU128BE(h, uint64(cfg.Consensus.CommitHistoryRounds))
	writeU128BE(h, uint64(cfg.Consensus.DeduplicateRounds))
	writeU128BE(h, uint64(cfg.Consensus.MaxConsensusLagRounds))

	var sum [32]byte
	h.Sum(sum[:0])
	return OverlayID(sum)
}
