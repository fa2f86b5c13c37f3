package membership

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/members"
)

// AntiEntropyEntry is one item of an anti-entropy replay: either a
// reconstructed super-majority ballot for an already-decided generation,
// or (for the final entry) this Manager's own in-progress votes.
type AntiEntropyEntry struct {
	Gen      uint64
	Decision *Decision
	Votes    []SignedVote
}

// Manager owns the generation-indexed sequence of Consensus objects:
// decided generations are retained in history; the in-progress consensus
// is always for self.gen+1 (spec.md 3 invariant, 4.F).
type Manager struct {
	mu sync.RWMutex

	gen     uint64
	elders  []address.Name
	keys    blscrypto.PublicKeySet
	roll    *members.Set
	current *Consensus
	history map[uint64]*Decision
	// votes retained for the in-progress generation, for anti-entropy replay.
	inProgressVotes []SignedVote
}

// NewManager creates a Manager starting at generation startGen, with the
// in-progress consensus targeting startGen+1 as required by the dense-
// generation invariant.
func NewManager(startGen uint64, elders []address.Name, keys blscrypto.PublicKeySet, roll *members.Set) *Manager {
	m := &Manager{
		gen:     startGen,
		elders:  elders,
		keys:    keys,
		roll:    roll,
		history: make(map[uint64]*Decision),
	}
	m.current = NewConsensus(startGen+1, elders, keys, roll)
	return m
}

// Gen returns the highest decided generation.
func (m *Manager) Gen() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Propose builds and signs a proposal vote for the in-progress generation.
func (m *Manager) Propose(nodeState members.NodeState, myShare blscrypto.SecretKeyShare) (SignedVote, error) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	return current.Propose(nodeState, myShare)
}

// HandleSignedVote routes sv to the in-progress consensus and, on
// Decided, advances the generation: the decided consensus moves into
// history, the roll is updated with the decided Joined/Left/Relocated
// transitions, and a fresh consensus is allocated for the next
// generation (spec.md 4.F).
func (m *Manager) HandleSignedVote(sv SignedVote) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sv.Vote.Gen != m.gen+1 {
		return Response{}, fmt.Errorf("%w: want %d, got %d", ErrBadGeneration, m.gen+1, sv.Vote.Gen)
	}

	resp, err := m.current.HandleSignedVote(sv)
	if err != nil {
		return resp, err
	}
	m.inProgressVotes = append(m.inProgressVotes, sv)

	if resp.Kind == Decided {
		for _, proposal := range resp.Decision.Proposals {
			if err := m.roll.ApplyDecided(proposal, resp.Decision.PK, resp.Decision.Sig); err != nil {
				return resp, fmt.Errorf("membership: applying decision %d: %w", resp.Decision.Gen, err)
			}
		}
		decidedGen := m.gen + 1
		m.history[decidedGen] = resp.Decision
		m.gen = decidedGen
		m.inProgressVotes = nil
		m.current = NewConsensus(m.gen+1, m.elders, m.keys, m.roll)
	}
	return resp, nil
}

// HistoryAt returns the decision recorded for gen, if decided.
func (m *Manager) HistoryAt(gen uint64) (*Decision, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.history[gen]
	return d, ok
}

// AntiEntropy emits, in ascending generation order, a reconstructed
// decision for every generation strictly greater than fromGen, followed
// by the current in-progress votes (spec.md 4.F / 9: "a finite,
// restartable lazy sequence ... materialised eagerly into a bounded
// vector at send time").
func (m *Manager) AntiEntropy(fromGen uint64) []AntiEntropyEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var gens []uint64
	for g := range m.history {
		if g > fromGen {
			gens = append(gens, g)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	entries := make([]AntiEntropyEntry, 0, len(gens)+1)
	for _, g := range gens {
		entries = append(entries, AntiEntropyEntry{Gen: g, Decision: m.history[g]})
	}
	if m.gen+1 > fromGen {
		votes := make([]SignedVote, len(m.inProgressVotes))
		copy(votes, m.inProgressVotes)
		entries = append(entries, AntiEntropyEntry{Gen: m.gen + 1, Votes: votes})
	}
	return entries
}
