package sap

import (
	"errors"
	"fmt"

	"github.com/xornet/xornet/blscrypto"
)

// ErrKeyMismatch is returned when a SignedSAP's declared public key does
// not match its SAP's key set.
var ErrKeyMismatch = errors.New("sap: signed SAP's declared key does not match its key set")

// Signed wraps a SAP with a BLS signature over its canonical bytes, signed
// by the matching section key. Construction requires either a full BLS
// signature or (more commonly) enough threshold shares already combined by
// package blscrypto/aggregator (spec.md 4.A).
type Signed struct {
	SAP SAP
	PK  blscrypto.PublicKey
	Sig blscrypto.Signature
}

// NewSigned wraps s with sig under s's own section key and runs
// SelfVerify on the result, so it returns an error unless sig is a valid
// BLS signature over the SAP's canonical bytes.
func NewSigned(s SAP, sig blscrypto.Signature) (Signed, error) {
	pk := s.SectionKey()
	signed := Signed{SAP: s, PK: pk, Sig: sig}
	if err := signed.SelfVerify(); err != nil {
		return Signed{}, err
	}
	return signed, nil
}

// SelfVerify checks that sig is a valid BLS signature over the SAP's
// canonical bytes under PK, and that PK equals the SAP's own section key
// (spec.md 4.A: "self_verify checks signature and key coherence").
func (s Signed) SelfVerify() error {
	if !s.PK.Equal(s.SAP.SectionKey()) {
		return ErrKeyMismatch
	}
	if err := blscrypto.Verify(s.PK, s.SAP.CanonicalBytes(), s.Sig); err != nil {
		return fmt.Errorf("sap: self-verify failed: %w", err)
	}
	return nil
}

// SectionKey returns the SAP's BLS public key.
func (s Signed) SectionKey() blscrypto.PublicKey {
	return s.PK
}

