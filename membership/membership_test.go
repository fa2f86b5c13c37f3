package membership

import (
	"errors"
	"testing"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/members"
)

func setupElders(t *testing.T, n, threshold int) ([]address.Name, blscrypto.PublicKeySet, []blscrypto.SecretKeyShare) {
	t.Helper()
	keys, shares, err := blscrypto.GenerateKeySet(n, threshold)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	elders := make([]address.Name, n)
	for i := 0; i < n; i++ {
		elders[i][0] = byte(i + 1)
	}
	return elders, keys, shares
}

func joinState(id byte) members.NodeState {
	var n address.Name
	n[0] = id
	return members.NodeState{
		Name:  n,
		Peer:  address.Peer{Name: n, Socket: address.Socket{Host: "127.0.0.1", Port: 9000}},
		State: members.Joined,
		Age:   5,
	}
}

func TestProposeAndDecideReachesSuperMajority(t *testing.T) {
	const n, threshold = 7, 3
	elders, keys, shares := setupElders(t, n, threshold)
	roll := members.New()

	mgr := NewManager(0, elders, keys, roll)
	candidate := joinState(100)

	majority := blscrypto.SuperMajorityThreshold(n)
	var lastResp Response
	for i := 0; i < majority; i++ {
		sv, err := mgr.Propose(candidate, shares[i])
		if err != nil {
			t.Fatalf("Propose elder %d: %v", i, err)
		}
		resp, err := mgr.HandleSignedVote(sv)
		if err != nil {
			t.Fatalf("HandleSignedVote elder %d: %v", i, err)
		}
		lastResp = resp
	}

	if lastResp.Kind != Decided {
		t.Fatalf("expected Decided after %d votes, got %v", majority, lastResp.Kind)
	}
	if err := blscrypto.Verify(keys.PublicKey(), lastResp.Decision.Proposals[0].CanonicalBytes(), lastResp.Decision.Sig); err == nil {
		t.Fatalf("expected Verify against raw NodeState bytes to fail (decision signs the Vote, not the bare NodeState)")
	}
	if mgr.Gen() != 1 {
		t.Fatalf("expected generation to advance to 1, got %d", mgr.Gen())
	}
	if _, ok := mgr.HistoryAt(1); !ok {
		t.Fatalf("expected generation 1 to be recorded in history")
	}
}

func TestBroadcastFiresBeforeSuperMajority(t *testing.T) {
	const n, threshold = 7, 3
	elders, keys, shares := setupElders(t, n, threshold)
	roll := members.New()
	mgr := NewManager(0, elders, keys, roll)
	candidate := joinState(100)

	var sawBroadcast bool
	for i := 0; i < threshold; i++ {
		sv, err := mgr.Propose(candidate, shares[i])
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		resp, err := mgr.HandleSignedVote(sv)
		if err != nil {
			t.Fatalf("HandleSignedVote: %v", err)
		}
		if resp.Kind == Broadcast {
			sawBroadcast = true
		}
		if resp.Kind == Decided {
			t.Fatalf("did not expect Decided yet at vote %d (majority is %d)", i, blscrypto.SuperMajorityThreshold(n))
		}
	}
	if !sawBroadcast {
		t.Fatalf("expected a Broadcast response once threshold shares accumulated")
	}
}

func TestRejectsDuplicateJoinProposal(t *testing.T) {
	const n, threshold = 4, 2
	elders, keys, shares := setupElders(t, n, threshold)
	roll := members.New()
	mgr := NewManager(0, elders, keys, roll)

	candidate := joinState(100)
	majority := blscrypto.SuperMajorityThreshold(n)
	for i := 0; i < majority; i++ {
		sv, err := mgr.Propose(candidate, shares[i])
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if _, err := mgr.HandleSignedVote(sv); err != nil {
			t.Fatalf("HandleSignedVote: %v", err)
		}
	}
	if mgr.Gen() != 1 {
		t.Fatalf("expected generation 1 after decision")
	}

	// Proposing the same already-member candidate again at gen 2 must fail.
	if _, err := mgr.Propose(candidate, shares[0]); !errors.Is(err, ErrJoinRequestForExistingMember) {
		t.Fatalf("expected ErrJoinRequestForExistingMember, got %v", err)
	}
}

func TestEquivocatingVoterMarkedFaulty(t *testing.T) {
	const n, threshold = 4, 2
	elders, keys, shares := setupElders(t, n, threshold)
	roll := members.New()
	mgr := NewManager(0, elders, keys, roll)

	first := joinState(100)
	second := joinState(101)

	sv1, err := mgr.Propose(first, shares[0])
	if err != nil {
		t.Fatalf("Propose first: %v", err)
	}
	if _, err := mgr.HandleSignedVote(sv1); err != nil {
		t.Fatalf("HandleSignedVote first: %v", err)
	}

	// Same voter now proposes a different candidate in the same
	// generation: equivocation.
	sv2, err := mgr.Propose(second, shares[0])
	if err != nil {
		t.Fatalf("Propose second: %v", err)
	}
	if _, err := mgr.HandleSignedVote(sv2); err != nil {
		t.Fatalf("HandleSignedVote second: %v", err)
	}

	// The same voter's third vote, even if consistent with its first,
	// must now be ignored as faulty.
	sv3, err := mgr.Propose(first, shares[0])
	if err != nil {
		t.Fatalf("Propose third: %v", err)
	}
	if _, err := mgr.HandleSignedVote(sv3); !errors.Is(err, ErrAttemptedFaultyProposal) {
		t.Fatalf("expected ErrAttemptedFaultyProposal, got %v", err)
	}
}

func TestAntiEntropyReplaysDecidedGenerationsInOrder(t *testing.T) {
	const n, threshold = 4, 2
	elders, keys, shares := setupElders(t, n, threshold)
	roll := members.New()
	mgr := NewManager(0, elders, keys, roll)
	majority := blscrypto.SuperMajorityThreshold(n)

	for gen := 0; gen < 2; gen++ {
		candidate := joinState(byte(100 + gen))
		for i := 0; i < majority; i++ {
			sv, err := mgr.Propose(candidate, shares[i])
			if err != nil {
				t.Fatalf("Propose gen %d: %v", gen, err)
			}
			if _, err := mgr.HandleSignedVote(sv); err != nil {
				t.Fatalf("HandleSignedVote gen %d: %v", gen, err)
			}
		}
	}

	entries := mgr.AntiEntropy(0)
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 anti-entropy entries, got %d", len(entries))
	}
	if entries[0].Gen != 1 || entries[1].Gen != 2 {
		t.Fatalf("expected ascending generation order 1,2; got %d,%d", entries[0].Gen, entries[1].Gen)
	}
	if entries[0].Decision == nil || entries[1].Decision == nil {
		t.Fatalf("expected decided generations to carry a reconstructed decision")
	}
}
