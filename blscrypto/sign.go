package blscrypto

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3/sign/tbls"
)

// scheme is the threshold BLS scheme used for every signing/verification
// operation in this package: public keys in G1, signatures in G2, matching
// the "MinPk" convention also used for the teacher's blst-backed
// non-threshold signatures.
var scheme = tbls.NewThresholdSchemeOnG2(suite)

// SignatureShare is one elder's partial signature over a payload, carrying
// its own index so the aggregator can identify which key-set slot it came
// from (spec.md 4.E: "signature share ... validated against its declared
// key-set index").
type SignatureShare []byte

// Signature is a combined (recovered) BLS signature, verifiable directly
// under a PublicKeySet's PublicKey().
type Signature []byte

// ErrInvalidShare is returned when a signature share fails to verify
// against its claimed key-set index.
var ErrInvalidShare = errors.New("blscrypto: invalid signature share")

// Sign produces this elder's signature share over payload.
func Sign(share SecretKeyShare, payload []byte) (SignatureShare, error) {
	sig, err := scheme.Sign(share.share, payload)
	if err != nil {
		return nil, fmt.Errorf("blscrypto: sign share: %w", err)
	}
	return SignatureShare(sig), nil
}

// VerifyShare checks a signature share against the declared public key
// set's share at the index encoded in the share itself.
func VerifyShare(keys PublicKeySet, payload []byte, share SignatureShare) error {
	if err := scheme.VerifyPartial(keys.poly, payload, []byte(share)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return nil
}

// ShareIndex extracts the key-set index a signature share was produced
// for, without verifying it.
func ShareIndex(share SignatureShare) (int, error) {
	idx, err := tbls.SigShare(share).Index()
	if err != nil {
		return -1, fmt.Errorf("blscrypto: malformed signature share: %w", err)
	}
	return idx, nil
}

// Combine attempts to recover a full signature from shares once at least
// keys.Threshold() of them are present. shares must already have been
// verified individually with VerifyShare; Combine re-verifies as part of
// Lagrange recovery and returns an error if any share is invalid.
func Combine(keys PublicKeySet, payload []byte, shares []SignatureShare) (Signature, error) {
	if len(shares) < keys.Threshold() {
		return nil, fmt.Errorf("blscrypto: %w: have %d, need %d", ErrNotEnoughShares, len(shares), keys.Threshold())
	}
	raw := make([][]byte, len(shares))
	for i, s := range shares {
		raw[i] = []byte(s)
	}
	sig, err := scheme.Recover(keys.poly, payload, raw, keys.Threshold(), keys.Size())
	if err != nil {
		return nil, fmt.Errorf("blscrypto: combine shares: %w", err)
	}
	return Signature(sig), nil
}

// ErrNotEnoughShares is returned by Combine when fewer than the threshold
// number of shares have been supplied.
var ErrNotEnoughShares = errors.New("not enough shares")

// Verify checks a combined signature against a public key and payload.
func Verify(pk PublicKey, payload []byte, sig Signature) error {
	if pk.IsZero() {
		return errors.New("blscrypto: cannot verify against zero public key")
	}
	if err := scheme.VerifyRecovered(pk.point, payload, []byte(sig)); err != nil {
		return fmt.Errorf("blscrypto: signature verification failed: %w", err)
	}
	return nil
}
