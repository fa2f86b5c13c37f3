// Package members tracks the current and archived node states of a
// section (spec.md 4.D, "Section Peers"), grounded on the teacher's
// p2p.PeerManager: a mutex-guarded map keyed by peer identity with
// sentinel errors for illegal transitions.
package members

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
)

// State is a node's membership status.
type State int

const (
	Joined State = iota
	Left
	Relocated
)

func (s State) String() string {
	switch s {
	case Joined:
		return "Joined"
	case Left:
		return "Left"
	case Relocated:
		return "Relocated"
	default:
		return "Unknown"
	}
}

// MinAdultAge is the minimum age at which a member is considered an adult
// rather than an infant (spec.md GLOSSARY).
const MinAdultAge = 5

// SoftMaxMembers is the section size enforced on Joined proposals
// (spec.md 3 invariants).
const SoftMaxMembers = 21

// FounderAge is the age assigned to the node that forms a brand-new
// network's genesis section (spec.md 3/GLOSSARY: "255 = network founder").
const FounderAge = 255

// NodeState is the unsigned payload describing one member's status.
type NodeState struct {
	Name     address.Name
	Peer     address.Peer
	State    State
	PrevName *address.Name // set only for Relocated
	Age      uint8
}

// ErrIllegalTransition is returned when an incoming state does not
// follow the permitted Joined -> {Left, Relocated} transition.
var ErrIllegalTransition = errors.New("members: illegal state transition")

// ErrUntrustedSigner is returned when an Authed node state's signing key
// is not reachable in the section chain supplied to Update.
var ErrUntrustedSigner = errors.New("members: signing key not reachable in chain")

// Authed wraps a NodeState with the section key that signed it and the
// combined BLS signature over its canonical bytes.
type Authed struct {
	NodeState NodeState
	PK        blscrypto.PublicKey
	Sig       blscrypto.Signature
}

// CanonicalBytes deterministically serialises a NodeState for signing:
// name, NUL-terminated host, big-endian port, state byte, a presence byte
// followed by the previous name if any, and age. Unlike the wire
// encodings, no field is length-prefixed.
func (n NodeState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, n.Name[:]...)
	buf = append(buf, []byte(n.Peer.Socket.Host)...)
	buf = append(buf, 0) // host terminator; host never contains a NUL byte
	buf = append(buf, byte(n.Peer.Socket.Port>>8), byte(n.Peer.Socket.Port))
	buf = append(buf, byte(n.State))
	if n.PrevName != nil {
		buf = append(buf, 1)
		buf = append(buf, n.PrevName[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, n.Age)
	return buf
}

// Verify checks that a authed node state's signature verifies under PK and
// that PK is reachable in trustedChain.
func (a Authed) Verify(trustedChain *chain.Chain) error {
	if !trustedChain.HasKey(a.PK) {
		return ErrUntrustedSigner
	}
	return blscrypto.Verify(a.PK, a.NodeState.CanonicalBytes(), a.Sig)
}

// Set is the section-local membership roll: a current map plus an
// archive of departed/relocated members, guarded by a single RWMutex
// (spec.md 5: "Peer set is internally synchronised and may be updated
// without holding outer locks").
type Set struct {
	mu      sync.RWMutex
	current map[address.Name]Authed
	archive map[address.Name]Authed
}

// New creates an empty Section Peers set.
func New() *Set {
	return &Set{
		current: make(map[address.Name]Authed),
		archive: make(map[address.Name]Authed),
	}
}

// Update replaces the existing entry for the incoming state's name iff
// the signing key is reachable in trustedChain and the transition is
// legal: Joined -> {Left, Relocated}. Terminal states are archived, not
// overwritten (spec.md 4.D).
func (s *Set) Update(authed Authed, trustedChain *chain.Chain) error {
	if err := authed.Verify(trustedChain); err != nil {
		return fmt.Errorf("members: update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := authed.NodeState.Name
	existing, isCurrent := s.current[name]

	switch authed.NodeState.State {
	case Joined:
		if isCurrent {
			return fmt.Errorf("%w: %s already joined", ErrIllegalTransition, name)
		}
		if len(s.current) >= SoftMaxMembers {
			return fmt.Errorf("members: section at capacity (%d)", SoftMaxMembers)
		}
		s.current[name] = authed
		return nil

	case Left, Relocated:
		if !isCurrent || existing.NodeState.State != Joined {
			return fmt.Errorf("%w: %s is not currently joined", ErrIllegalTransition, name)
		}
		delete(s.current, name)
		s.archive[name] = authed
		return nil

	default:
		return fmt.Errorf("members: unknown target state %v", authed.NodeState.State)
	}
}

// ApplyDecided records a membership transition that a generation's
// consensus has already authenticated: the combined BLS signature proves
// the generation's decision as a whole (over the Vote payload, not the
// bare NodeState bytes), so this entry point skips NodeState-level
// signature verification and only enforces the same legality/capacity
// rules as Update. pk and sig are carried through for provenance and
// later archive pruning.
func (s *Set) ApplyDecided(ns NodeState, pk blscrypto.PublicKey, sig blscrypto.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := ns.Name
	existing, isCurrent := s.current[name]
	authed := Authed{NodeState: ns, PK: pk, Sig: sig}

	switch ns.State {
	case Joined:
		if isCurrent {
			return fmt.Errorf("%w: %s already joined", ErrIllegalTransition, name)
		}
		if len(s.current) >= SoftMaxMembers {
			return fmt.Errorf("members: section at capacity (%d)", SoftMaxMembers)
		}
		s.current[name] = authed
		return nil

	case Left, Relocated:
		if !isCurrent || existing.NodeState.State != Joined {
			return fmt.Errorf("%w: %s is not currently joined", ErrIllegalTransition, name)
		}
		delete(s.current, name)
		s.archive[name] = authed
		return nil

	default:
		return fmt.Errorf("members: unknown target state %v", ns.State)
	}
}

// Current returns a snapshot of currently joined members.
func (s *Set) Current() []Authed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Authed, 0, len(s.current))
	for _, a := range s.current {
		out = append(out, a)
	}
	return out
}

// Len returns the number of currently joined members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}

// IsJoined reports whether name is currently a joined member.
func (s *Set) IsJoined(name address.Name) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.current[name]
	return ok && a.NodeState.State == Joined
}

// Retain removes current members whose name falls outside prefix
// (spec.md 4.D).
func (s *Set) Retain(prefix address.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.current {
		if !prefix.Matches(name) {
			delete(s.current, name)
		}
	}
}

// PruneMembersArchive drops archived entries signed by keys absent from
// chain (spec.md 4.D).
func (s *Set) PruneMembersArchive(chn *chain.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, a := range s.archive {
		if !chn.HasKey(a.PK) {
			delete(s.archive, name)
		}
	}
}
