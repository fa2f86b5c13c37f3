// Package prefixmap implements the mapping from an address-space Prefix
// to the latest verified Signed SAP covering that prefix (spec.md 4.C).
package prefixmap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/sap"
)

// Sentinel errors for Update's failure modes.
var (
	ErrUntrustedSAP      = errors.New("prefixmap: untrusted section authority provider")
	ErrInvalidGenesisKey = errors.New("prefixmap: genesis key mismatch")
	ErrStaleUpdate       = errors.New("prefixmap: update does not extend any known entry")
)

// Map is the section-local view from prefix to latest verified SignedSAP,
// anchored at a fixed genesis key (spec.md: "Prefix Map"). It is safe for
// concurrent use: one RWMutex guards the whole map, so reads run
// concurrently and every write, whatever its prefix, is serialised
// against all other reads and writes.
type Map struct {
	mu         sync.RWMutex
	genesisKey blscrypto.PublicKey
	entries    map[string]sap.Signed // keyed by prefix.String()
}

// New creates an empty prefix map anchored at genesisKey.
func New(genesisKey blscrypto.PublicKey) *Map {
	return &Map{genesisKey: genesisKey, entries: make(map[string]sap.Signed)}
}

// GenesisKey returns the map's anchoring genesis key.
func (m *Map) GenesisKey() blscrypto.PublicKey {
	return m.genesisKey
}

// GetSigned returns the stored Signed SAP for an exact prefix, if any.
func (m *Map) GetSigned(p address.Prefix) (sap.Signed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.entries[p.String()]
	return s, ok
}

// SectionByName returns the stored Signed SAP whose prefix matches name,
// if any.
func (m *Map) SectionByName(name address.Name) (sap.Signed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.entries {
		if s.SAP.Prefix.Matches(name) {
			return s, true
		}
	}
	return sap.Signed{}, false
}

// ClosestOrOpposite returns the stored SAP whose prefix has the longest
// common prefix length with name, breaking ties toward excluded's sibling
// when excluded is non-nil (spec.md 4.C).
func (m *Map) ClosestOrOpposite(name address.Name, excluded *address.Prefix) (sap.Signed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best    sap.Signed
		bestCPL = -1
		found   bool
	)
	var tieBreak address.Prefix
	if excluded != nil {
		tieBreak = excluded.Sibling()
	}
	for _, s := range m.entries {
		cpl := commonPrefixLenWithName(s.SAP.Prefix, name)
		switch {
		case cpl > bestCPL:
			best, bestCPL, found = s, cpl, true
		case cpl == bestCPL && excluded != nil && s.SAP.Prefix.Equal(tieBreak):
			best, found = s, true
		}
	}
	return best, found
}

func commonPrefixLenWithName(p address.Prefix, name address.Name) int {
	cpl := 0
	for i := 0; i < p.Len(); i++ {
		if p.Bit(i) != name.Bit(i) {
			break
		}
		cpl++
	}
	return cpl
}

// Update admits signedSAP if it self-verifies, its key is reachable from
// genesisKey via proofChain, proofChain's root is already reachable in
// trustedChain, and the update is novel (spec.md 4.C). Returns true if
// stored, false if an identical entry was already current.
func (m *Map) Update(signedSAP sap.Signed, proofChain *chain.Chain, trustedChain *chain.Chain) (bool, error) {
	if err := signedSAP.SelfVerify(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUntrustedSAP, err)
	}
	if !proofChain.LastKey().Equal(signedSAP.SectionKey()) {
		return false, fmt.Errorf("%w: proof chain does not terminate at the SAP's section key", ErrUntrustedSAP)
	}
	if !proofChain.RootKey().Equal(m.genesisKey) {
		return false, fmt.Errorf("%w: proof chain root is not our genesis key", ErrInvalidGenesisKey)
	}
	if !trustedChain.HasKey(proofChain.RootKey()) {
		return false, fmt.Errorf("%w: proof chain root not reachable in trusted chain", ErrUntrustedSAP)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := signedSAP.SAP.Prefix.String()
	existing, ok := m.entries[key]
	if ok {
		if existing.SectionKey().Equal(signedSAP.SectionKey()) {
			return false, nil
		}
		// Same prefix, different key: the stored entry is replaced.
		// Only the new key's proof chain from genesis is checked; whether
		// the new key descends from the stored entry's key is not.
		m.entries[key] = signedSAP
		return true, nil
	}

	if m.supersedesAncestor(signedSAP.SAP.Prefix) || m.splitsExisting(signedSAP.SAP.Prefix) || len(m.entries) == 0 {
		m.entries[key] = signedSAP
		return true, nil
	}

	return false, fmt.Errorf("%w: prefix %s neither new, an ancestor-superseding update, nor a split", ErrStaleUpdate, signedSAP.SAP.Prefix)
}

// supersedesAncestor reports whether p strictly extends some stored
// prefix (the new entry supersedes a shorter, ancestor entry).
func (m *Map) supersedesAncestor(p address.Prefix) bool {
	for k := range m.entries {
		existing, err := parsePrefixString(k)
		if err != nil {
			continue
		}
		if p.IsExtensionOf(existing) && !p.Equal(existing) {
			return true
		}
	}
	return false
}

// splitsExisting reports whether p is one of the two children (siblings)
// of a stored prefix. Whether p's sibling is already recorded is not
// checked.
func (m *Map) splitsExisting(p address.Prefix) bool {
	if p.Len() == 0 {
		return false
	}
	parent := p.Popped()
	_, parentStillPresent := m.entries[parent.String()]
	return parentStillPresent
}

func parsePrefixString(s string) (address.Prefix, error) {
	bits := make([]uint8, 0, len(s))
	for _, c := range s {
		switch c {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		default:
			return address.Prefix{}, errors.New("prefixmap: malformed prefix key")
		}
	}
	return address.NewPrefix(bits...), nil
}
