// Package aggregator implements the signature aggregator (spec.md 4.E):
// a TTL-bounded pool of BLS signature shares over identical payloads,
// producing a combined signature once enough distinct valid shares
// accumulate. Grounded on the teacher's consensus.AggregationPool (a
// mutex-guarded pool keyed by payload, pruned by age) generalized from
// attestation bitfields to BLS threshold shares.
package aggregator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xornet/xornet/blscrypto"
)

// DefaultTTL is the default entry lifetime (spec.md 4.E / 5: "900 s").
const DefaultTTL = 15 * time.Minute

// Sentinel errors for Add's outcomes.
var (
	ErrNotEnoughShares   = errors.New("aggregator: not enough shares yet")
	ErrAlreadyAggregated = errors.New("aggregator: payload already aggregated")
	ErrFaultyShare       = errors.New("aggregator: faulty signature share")
)

// bucket holds the in-flight shares for one (public key, payload) pair.
type bucket struct {
	keys      blscrypto.PublicKeySet
	payload   []byte
	shares    map[int]blscrypto.SignatureShare
	combined  *blscrypto.Signature
	expiresAt time.Time
}

// Aggregator collects signature shares keyed first by the section public
// key and then by payload, so that distinct generations/sections never
// collide even if two payloads happen to coincide (spec.md's SUPPLEMENTED
// FEATURES: "Aggregator keyed by BLS public key then payload").
type Aggregator struct {
	mu  sync.Mutex
	ttl time.Duration
	// buckets[pk_string][payload_string] -> *bucket
	buckets map[string]map[string]*bucket
}

// New creates an Aggregator with the given entry TTL. A zero ttl selects
// DefaultTTL.
func New(ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{ttl: ttl, buckets: make(map[string]map[string]*bucket)}
}

// Add validates share against keys at its declared index and adds it to
// the pool entry for (keys.PublicKey(), payload). It drops expired
// entries before acting. Once the number of distinct valid shares reaches
// keys.Threshold(), it combines and returns the signature; otherwise it
// returns ErrNotEnoughShares. Returns ErrAlreadyAggregated if this payload
// was already combined, and ErrFaultyShare if share fails validation.
func (a *Aggregator) Add(keys blscrypto.PublicKeySet, payload []byte, share blscrypto.SignatureShare) (blscrypto.Signature, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	pkKey := keys.PublicKey().String()
	a.pruneLocked(pkKey, now)

	payloadKey := string(payload)
	byPayload, ok := a.buckets[pkKey]
	if !ok {
		byPayload = make(map[string]*bucket)
		a.buckets[pkKey] = byPayload
	}
	b, ok := byPayload[payloadKey]
	if !ok {
		b = &bucket{
			keys:      keys,
			payload:   append([]byte(nil), payload...),
			shares:    make(map[int]blscrypto.SignatureShare),
			expiresAt: now.Add(a.ttl),
		}
		byPayload[payloadKey] = b
	}

	if b.combined != nil {
		return nil, ErrAlreadyAggregated
	}

	idx, err := blscrypto.ShareIndex(share)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFaultyShare, err)
	}
	if err := blscrypto.VerifyShare(keys, payload, share); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFaultyShare, err)
	}
	b.shares[idx] = share

	if len(b.shares) < keys.Threshold() {
		return nil, ErrNotEnoughShares
	}

	shares := make([]blscrypto.SignatureShare, 0, len(b.shares))
	for _, s := range b.shares {
		shares = append(shares, s)
	}
	sig, err := blscrypto.Combine(keys, payload, shares)
	if err != nil {
		return nil, fmt.Errorf("aggregator: combine: %w", err)
	}
	b.combined = &sig
	return sig, nil
}

// pruneLocked drops expired payload entries under pkKey. Must be called
// with a.mu held.
func (a *Aggregator) pruneLocked(pkKey string, now time.Time) {
	byPayload, ok := a.buckets[pkKey]
	if !ok {
		return
	}
	for payloadKey, b := range byPayload {
		if now.After(b.expiresAt) {
			delete(byPayload, payloadKey)
		}
	}
	if len(byPayload) == 0 {
		delete(a.buckets, pkKey)
	}
}

// Len returns the number of payload entries held across all keys, for
// diagnostics and tests. Combined entries are counted, and so are expired
// entries that no Add for their key has pruned yet.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, byPayload := range a.buckets {
		n += len(byPayload)
	}
	return n
}
