// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package point

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/luxfi/ids"
	"github.com/zeebo/blake3"
)

// PeerID identifies a validator by its 32-byte Ed25519 public key. It
// reuses ids.ID, the luxfi stack's 32-byte content identifier type,
// rather than ids.NodeID (a 20-byte hash of a key) because the spec
// requires recovering the public key itself from a PeerID to verify
// signatures.
type PeerID = ids.ID

// Digest is a BLAKE3 hash of a serialized PointBody. It binds the
// overlay id (see mpconfig.OverlayID) the same way it binds a point: by
// hashing a fixed, versioned byte layout.
type Digest [32]byte

// DigestOf hashes arbitrary already-serialized bytes into a Digest.
func DigestOf(b []byte) Digest {
	return Digest(blake3.Sum256(b))
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Signature is a 64-byte Ed25519 signature over a Digest.
type Signature [ed25519.SignatureSize]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Sign produces a Signature over digest using priv, an Ed25519 private key.
func Sign(priv ed25519.PrivateKey, digest Digest) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, digest[:]))
	return sig
}

// Verifies reports whether sig is a valid Ed25519 signature by signer
// over digest.
func (s Signature) Verifies(signer PeerID, digest Digest) bool {
	pub := ed25519.PublicKey(signer[:])
	return ed25519.Verify(pub, digest[:], s[:])
}
