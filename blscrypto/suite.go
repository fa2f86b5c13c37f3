// Package blscrypto wraps the threshold-BLS primitives used throughout the
// section-membership core: a section's authority is a BLS public-key set
// shared by its elders, individual elders hold a secret key share, and a
// section's signature over any payload is only meaningful once enough
// shares have been combined via Lagrange interpolation.
//
// This is grounded on go.dedis.ch/kyber/v3: the pairing-based threshold BLS
// scheme (sign/tbls), its share package (PriShare/PubPoly for the (t,n)
// dealer and recovery), and sign/bls for the underlying non-threshold BLS
// primitive the recovered signature is ultimately verified with. The
// retrieval pack carries two independent worked examples of exactly this
// wiring (TeamRaccoons-kyber's DKG+BLS example and drand's vendored tbls
// package), which this package follows closely.
//
// The teacher's own crypto package instead wraps supranational/blst for a
// plain (non-threshold) BLS12-381 multi-signature scheme: every signer has
// an independent keypair and an aggregate signature is the sum of N
// individual signatures over (possibly distinct) messages. That shape does
// not fit this spec, which needs one shared public key per section with
// recoverable partial signatures from any threshold-sized subset of elders
// -- a capability blst's API does not expose. See DESIGN.md for the full
// account of why blst was dropped in favor of kyber for this repository.
package blscrypto

import (
	"go.dedis.ch/kyber/v3/pairing"
)

// suite is the pairing-friendly curve used for all threshold BLS
// operations. bn256 is the curve exercised by the retrieval pack's kyber
// examples; nothing in this package depends on BN254 specifics beyond what
// the kyber/pairing.Suite interface exposes, so swapping in a BLS12-381
// suite later is a one-line change.
var suite = pairing.NewSuiteBn256()

// Suite returns the shared pairing suite used by this package.
func Suite() pairing.Suite {
	return suite
}
