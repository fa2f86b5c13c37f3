package blscrypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
)

// ErrThresholdTooLarge is returned when a requested threshold exceeds the
// number of participants it is drawn from.
var ErrThresholdTooLarge = errors.New("blscrypto: threshold larger than participant count")

// PublicKey is a section's BLS public key: the constant term of the
// section's public sharing polynomial. Two sections (or two generations of
// the same section) are the same authority iff their PublicKey bytes are
// equal.
type PublicKey struct {
	point kyber.Point
}

// Bytes returns the compressed binary encoding of the public key.
func (k PublicKey) Bytes() []byte {
	if k.point == nil {
		return nil
	}
	b, err := k.point.MarshalBinary()
	if err != nil {
		// kyber points always marshal; a failure here indicates a nil or
		// zero-value point, which callers should not construct directly.
		panic(fmt.Sprintf("blscrypto: public key failed to marshal: %v", err))
	}
	return b
}

// String returns the hex encoding of the public key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k.Bytes())
}

// Equal reports whether two public keys are the same point.
func (k PublicKey) Equal(other PublicKey) bool {
	if k.point == nil || other.point == nil {
		return k.point == nil && other.point == nil
	}
	return k.point.Equal(other.point)
}

// IsZero reports whether the public key was never assigned.
func (k PublicKey) IsZero() bool {
	return k.point == nil
}

// PublicKeyFromBytes parses a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	p := suite.G1().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return PublicKey{}, fmt.Errorf("blscrypto: invalid public key bytes: %w", err)
	}
	return PublicKey{point: p}, nil
}

// PublicKeySet is the authenticated public description of a (t,n)
// threshold BLS key: the public sharing polynomial over the elders'
// secret-key shares. Its size (n) must match the elder roster it
// authenticates.
type PublicKeySet struct {
	poly      *share.PubPoly
	threshold int
	size      int
}

// PublicKey returns the set's combined public key (the section key).
func (s PublicKeySet) PublicKey() PublicKey {
	return PublicKey{point: s.poly.Commit()}
}

// Threshold returns the minimum number of distinct shares required to
// recover a full signature.
func (s PublicKeySet) Threshold() int {
	return s.threshold
}

// Size returns the number of key shares (elders) in the set.
func (s PublicKeySet) Size() int {
	return s.size
}

// PublicKeyShare returns the public key share at index i, matching the
// secret share an elder at that index holds.
func (s PublicKeySet) PublicKeyShare(i int) PublicKey {
	ps := s.poly.Eval(i)
	return PublicKey{point: ps.V}
}

// Equal reports whether two key sets describe the same threshold public
// key with the same threshold and size. Two key sets for the same section
// generation must be Equal.
func (s PublicKeySet) Equal(other PublicKeySet) bool {
	if s.threshold != other.threshold || s.size != other.size {
		return false
	}
	return s.PublicKey().Equal(other.PublicKey())
}

// SecretKeyShare is one elder's share of a section's secret key. It never
// leaves the elder that holds it; only the SignatureShare it produces is
// transmitted.
type SecretKeyShare struct {
	share *share.PriShare
}

// Index returns the share's index within its key set, in [0, size).
func (k SecretKeyShare) Index() int {
	return k.share.I
}

// SuperMajorityThreshold computes floor(2n/3) + 1 participants required
// for a super-majority decision over n elders, matching spec.md's
// "2/3 + 1" description (e.g. n=7 -> 5, n=4 -> 3).
func SuperMajorityThreshold(n int) int {
	return (2*n)/3 + 1
}

// BLSThreshold computes elders/3 + 1, the number of distinct signature
// shares the aggregator needs before it can recover a full BLS signature
// (spec.md 4.E).
func BLSThreshold(n int) int {
	return n/3 + 1
}

// GenerateKeySet runs a trusted-dealer (t,n) split of a freshly generated
// section secret key, returning the public key set and each elder's secret
// share in index order. This models section genesis / a section split,
// where a single elder process (or an offline ceremony) creates the new
// section's authority before any Joined decision references it.
//
// Grounded on the retrieval pack's DKG/BLS worked example, simplified from
// a full distributed key generation (which needs a network round per
// participant) to the single-dealer secret-sharing step that produces the
// same PriPoly/PubPoly pair; callers that need a fully decentralized DKG
// should drive share/dkg/pedersen themselves and hand the resulting shares
// to NewPublicKeySet / wrap them as SecretKeyShare.
func GenerateKeySet(n, threshold int) (PublicKeySet, []SecretKeyShare, error) {
	if threshold > n {
		return PublicKeySet{}, nil, ErrThresholdTooLarge
	}
	if threshold < 1 {
		return PublicKeySet{}, nil, errors.New("blscrypto: threshold must be at least 1")
	}

	secret := suite.G1().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G1(), threshold, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(nil)

	priShares := priPoly.Shares(n)
	shares := make([]SecretKeyShare, n)
	for i, ps := range priShares {
		shares[i] = SecretKeyShare{share: ps}
	}

	return PublicKeySet{poly: pubPoly, threshold: threshold, size: n}, shares, nil
}

// NewPublicKeySet reconstructs a PublicKeySet from its public commitments,
// as received over the wire inside a SignedSAP. commits must be in
// evaluation-point order starting at 0 (the constant term) as produced by
// share.PubPoly.Info / recovered from a dealer's broadcast.
func NewPublicKeySet(commits []PublicKey, threshold, size int) (PublicKeySet, error) {
	if len(commits) != threshold {
		return PublicKeySet{}, fmt.Errorf("blscrypto: need exactly %d commitments for threshold %d, got %d", threshold, threshold, len(commits))
	}
	points := make([]kyber.Point, len(commits))
	for i, c := range commits {
		points[i] = c.point
	}
	poly := share.NewPubPoly(suite.G1(), nil, points)
	return PublicKeySet{poly: poly, threshold: threshold, size: size}, nil
}

// Commitments returns the public key set's coefficient commitments, for
// wire serialization alongside a SignedSAP.
func (s PublicKeySet) Commitments() []PublicKey {
	_, commits := s.poly.Info()
	out := make([]PublicKey, len(commits))
	for i, c := range commits {
		out[i] = PublicKey{point: c}
	}
	return out
}
