package chain

import (
	"errors"
	"testing"

	"github.com/xornet/xornet/blscrypto"
)

// genKey produces a standalone single-key "keyset" (threshold 1, size 1),
// for exercising chain edges without needing a full threshold ceremony. It
// returns the key set's public key and a signer closure that recovers a
// full BLS signature over a given payload.
func genKey(t *testing.T) (blscrypto.PublicKey, func(payload []byte) blscrypto.Signature) {
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

func TestChainOfLen1SelfVerifies(t *testing.T) {
	root, _ := genKey(t)
	c := New(root)
	if c.MainBranchLen() != 1 {
		t.Fatalf("expected main branch len 1, got %d", c.MainBranchLen())
	}
	if err := c.SelfVerify(); err != nil {
		t.Fatalf("SelfVerify on trivial chain: %v", err)
	}
	if !c.HasKey(root) {
		t.Fatalf("expected HasKey(root) true")
	}
	if c.RootKey() != root {
		t.Fatalf("RootKey mismatch")
	}
}

func TestExtendMainAndSelfVerify(t *testing.T) {
	root, sign := genKey(t)
	child, _ := genKey(t)

	c := New(root)
	sig := sign(child.Bytes())
	if err := c.ExtendMain(root, child, sig); err != nil {
		t.Fatalf("ExtendMain: %v", err)
	}
	if c.MainBranchLen() != 2 {
		t.Fatalf("expected main branch len 2, got %d", c.MainBranchLen())
	}
	if !c.LastKey().Equal(child) {
		t.Fatalf("expected tip to be child")
	}
	if err := c.SelfVerify(); err != nil {
		t.Fatalf("SelfVerify: %v", err)
	}
}

func TestExtendRejectsBadSignature(t *testing.T) {
	root, _ := genKey(t)
	child, _ := genKey(t)
	_, otherSign := genKey(t)

	c := New(root)
	badSig := otherSign(child.Bytes()) // signed by the wrong key
	if err := c.Extend(root, child, badSig); !errors.Is(err, ErrUntrustedProofChain) {
		t.Fatalf("expected ErrUntrustedProofChain, got %v", err)
	}
}

func TestExtendRejectsUnknownParent(t *testing.T) {
	root, _ := genKey(t)
	stranger, strangerSign := genKey(t)
	child, _ := genKey(t)

	c := New(root)
	sig := strangerSign(child.Bytes())
	if err := c.Extend(stranger, child, sig); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestExtendRejectsCycle(t *testing.T) {
	root, rootSign := genKey(t)
	child, childSign := genKey(t)

	c := New(root)
	sig := rootSign(child.Bytes())
	if err := c.Extend(root, child, sig); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	// Re-inserting an edge back into an already-present key must be rejected.
	backSig := childSign(root.Bytes())
	if err := c.Extend(child, root, backSig); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestGetProofChain(t *testing.T) {
	root, rootSign := genKey(t)
	mid, midSign := genKey(t)
	tip, _ := genKey(t)

	c := New(root)
	if err := c.ExtendMain(root, mid, rootSign(mid.Bytes())); err != nil {
		t.Fatalf("ExtendMain mid: %v", err)
	}
	if err := c.ExtendMain(mid, tip, midSign(tip.Bytes())); err != nil {
		t.Fatalf("ExtendMain tip: %v", err)
	}

	proof, err := c.GetProofChain(root, tip)
	if err != nil {
		t.Fatalf("GetProofChain: %v", err)
	}
	if proof.MainBranchLen() != 3 {
		t.Fatalf("expected proof chain of length 3, got %d", proof.MainBranchLen())
	}
	if err := proof.SelfVerify(); err != nil {
		t.Fatalf("proof chain does not self-verify: %v", err)
	}

	unrelated, _ := genKey(t)
	if _, err := c.GetProofChain(unrelated, tip); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for unrelated ancestor, got %v", err)
	}
}

func TestJoinMergesForkingBranches(t *testing.T) {
	root, rootSign := genKey(t)
	left, _ := genKey(t)
	right, _ := genKey(t)

	a := New(root)
	if err := a.ExtendMain(root, left, rootSign(left.Bytes())); err != nil {
		t.Fatalf("ExtendMain left: %v", err)
	}

	b := New(root)
	if err := b.ExtendMain(root, right, rootSign(right.Bytes())); err != nil {
		t.Fatalf("ExtendMain right: %v", err)
	}

	if err := a.Join(b); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !a.HasKey(left) || !a.HasKey(right) {
		t.Fatalf("expected joined chain to contain both forks")
	}
	if err := a.SelfVerify(); err != nil {
		t.Fatalf("joined chain does not self-verify: %v", err)
	}
}

func TestJoinSkipsUnverifiableEdges(t *testing.T) {
	root, rootSign := genKey(t)
	left, _ := genKey(t)
	bogus, bogusSign := genKey(t)
	_ = bogusSign

	a := New(root)
	if err := a.ExtendMain(root, left, rootSign(left.Bytes())); err != nil {
		t.Fatalf("ExtendMain left: %v", err)
	}

	// b claims an edge root -> bogus "signed" by bogus itself (wrong
	// signer); Join must silently drop it rather than propagate the forgery.
	forged := &Chain{root: root, edges: map[string]Entry{
		bogus.String(): {Parent: root, Child: bogus, Sig: bogusSign(bogus.Bytes())},
	}, mainPath: []blscrypto.PublicKey{root}}

	if err := a.Join(forged); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if a.HasKey(bogus) {
		t.Fatalf("expected forged edge to be dropped by Join")
	}
	if err := a.SelfVerify(); err != nil {
		t.Fatalf("chain must still self-verify after Join: %v", err)
	}
}

func TestJoinRejectsMismatchedGenesis(t *testing.T) {
	rootA, _ := genKey(t)
	rootB, _ := genKey(t)

	a := New(rootA)
	b := New(rootB)
	if err := a.Join(b); !errors.Is(err, ErrInvalidGenesisKey) {
		t.Fatalf("expected ErrInvalidGenesisKey, got %v", err)
	}
}
