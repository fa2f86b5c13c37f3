package members

import (
	"errors"
	"testing"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
)

func genRoot(t *testing.T) (blscrypto.PublicKey, func(payload []byte) blscrypto.Signature) {
	t.Helper()
	keys, shares, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	sign := func(payload []byte) blscrypto.Signature {
		share, err := blscrypto.Sign(shares[0], payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		sig, err := blscrypto.Combine(keys, payload, []blscrypto.SignatureShare{share})
		if err != nil {
			t.Fatalf("Combine: %v", err)
		}
		return sig
	}
	return keys.PublicKey(), sign
}

func authedFor(name byte, state State, sign func([]byte) blscrypto.Signature, pk blscrypto.PublicKey) Authed {
	var n address.Name
	n[0] = name
	ns := NodeState{
		Name:  n,
		Peer:  address.Peer{Name: n, Socket: address.Socket{Host: "127.0.0.1", Port: 9000}},
		State: state,
		Age:   5,
	}
	return Authed{NodeState: ns, PK: pk, Sig: sign(ns.CanonicalBytes())}
}

func TestUpdateJoinThenLeave(t *testing.T) {
	root, sign := genRoot(t)
	c := chain.New(root)
	set := New()

	join := authedFor(1, Joined, sign, root)
	if err := set.Update(join, c); err != nil {
		t.Fatalf("Update join: %v", err)
	}
	if !set.IsJoined(join.NodeState.Name) {
		t.Fatalf("expected member to be joined")
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 current member, got %d", set.Len())
	}

	leave := authedFor(1, Left, sign, root)
	if err := set.Update(leave, c); err != nil {
		t.Fatalf("Update leave: %v", err)
	}
	if set.IsJoined(leave.NodeState.Name) {
		t.Fatalf("expected member to no longer be joined")
	}
	if set.Len() != 0 {
		t.Fatalf("expected 0 current members after leave")
	}
}

func TestUpdateRejectsDuplicateJoin(t *testing.T) {
	root, sign := genRoot(t)
	c := chain.New(root)
	set := New()

	join := authedFor(1, Joined, sign, root)
	if err := set.Update(join, c); err != nil {
		t.Fatalf("Update join: %v", err)
	}
	if err := set.Update(join, c); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for duplicate join, got %v", err)
	}
}

func TestUpdateRejectsLeaveForNonMember(t *testing.T) {
	root, sign := genRoot(t)
	c := chain.New(root)
	set := New()

	leave := authedFor(1, Left, sign, root)
	if err := set.Update(leave, c); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for leave-without-join, got %v", err)
	}
}

func TestUpdateRejectsUntrustedSigner(t *testing.T) {
	root, _ := genRoot(t)
	_, otherSign := genRoot(t)
	c := chain.New(root)
	set := New()

	join := authedFor(1, Joined, otherSign, root) // signed by wrong key
	if err := set.Update(join, c); err == nil {
		t.Fatalf("expected signature verification to fail")
	}
}

func TestRetainDropsOutOfPrefixMembers(t *testing.T) {
	root, sign := genRoot(t)
	c := chain.New(root)
	set := New()

	inPrefix := authedFor(0b00000001, Joined, sign, root)
	outPrefix := authedFor(0b10000001, Joined, sign, root)
	if err := set.Update(inPrefix, c); err != nil {
		t.Fatalf("Update inPrefix: %v", err)
	}
	if err := set.Update(outPrefix, c); err != nil {
		t.Fatalf("Update outPrefix: %v", err)
	}

	set.Retain(address.NewPrefix(0))
	if !set.IsJoined(inPrefix.NodeState.Name) {
		t.Fatalf("expected in-prefix member to be retained")
	}
	if set.IsJoined(outPrefix.NodeState.Name) {
		t.Fatalf("expected out-of-prefix member to be dropped")
	}
}

func TestPruneMembersArchive(t *testing.T) {
	root, sign := genRoot(t)
	c := chain.New(root)
	set := New()

	join := authedFor(1, Joined, sign, root)
	if err := set.Update(join, c); err != nil {
		t.Fatalf("Update join: %v", err)
	}
	leave := authedFor(1, Left, sign, root)
	if err := set.Update(leave, c); err != nil {
		t.Fatalf("Update leave: %v", err)
	}

	// Root key still reachable: archive entry survives pruning.
	set.PruneMembersArchive(c)
	if _, ok := set.archive[leave.NodeState.Name]; !ok {
		t.Fatalf("expected archive entry to survive pruning while key is reachable")
	}

	emptyChain := chain.New(blscrypto.PublicKey{})
	set.PruneMembersArchive(emptyChain)
	if _, ok := set.archive[leave.NodeState.Name]; ok {
		t.Fatalf("expected archive entry to be pruned once its key is unreachable")
	}
}
