package blscrypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSignCombineVerify(t *testing.T) {
	const n, threshold = 7, 3

	keys, shares, err := GenerateKeySet(n, threshold)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	if keys.Size() != n || keys.Threshold() != threshold {
		t.Fatalf("unexpected key set size/threshold: %d/%d", keys.Size(), keys.Threshold())
	}

	payload := []byte("join-approval-payload")

	sigShares := make([]SignatureShare, 0, n)
	for _, sh := range shares {
		s, err := Sign(sh, payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := VerifyShare(keys, payload, s); err != nil {
			t.Fatalf("VerifyShare: %v", err)
		}
		idx, err := ShareIndex(s)
		if err != nil {
			t.Fatalf("ShareIndex: %v", err)
		}
		if idx != sh.Index() {
			t.Fatalf("share index mismatch: got %d want %d", idx, sh.Index())
		}
		sigShares = append(sigShares, s)
	}

	// Fewer than threshold shares must not combine.
	if _, err := Combine(keys, payload, sigShares[:threshold-1]); !errors.Is(err, ErrNotEnoughShares) {
		t.Fatalf("expected ErrNotEnoughShares, got %v", err)
	}

	combined, err := Combine(keys, payload, sigShares[:threshold])
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if err := Verify(keys.PublicKey(), payload, combined); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Combining with a different subset of threshold shares must produce an
	// equivalent, independently verifiable signature (threshold property).
	combined2, err := Combine(keys, payload, sigShares[n-threshold:])
	if err != nil {
		t.Fatalf("Combine (second subset): %v", err)
	}
	if err := Verify(keys.PublicKey(), payload, combined2); err != nil {
		t.Fatalf("Verify (second subset): %v", err)
	}
}

func TestVerifyShareRejectsWrongPayload(t *testing.T) {
	keys, shares, err := GenerateKeySet(4, 2)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	sig, err := Sign(shares[0], []byte("payload-a"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := VerifyShare(keys, []byte("payload-b"), sig); err == nil {
		t.Fatalf("expected VerifyShare to reject mismatched payload")
	}
}

func TestPublicKeySetEqualAndCommitmentsRoundTrip(t *testing.T) {
	keys, _, err := GenerateKeySet(5, 2)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	commits := keys.Commitments()
	rebuilt, err := NewPublicKeySet(commits, keys.Threshold(), keys.Size())
	if err != nil {
		t.Fatalf("NewPublicKeySet: %v", err)
	}
	if !rebuilt.Equal(keys) {
		t.Fatalf("rebuilt key set should equal original")
	}

	other, _, err := GenerateKeySet(5, 2)
	if err != nil {
		t.Fatalf("GenerateKeySet (other): %v", err)
	}
	if rebuilt.Equal(other) {
		t.Fatalf("independently generated key sets should not be equal")
	}
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	keys, _, err := GenerateKeySet(3, 2)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	pk := keys.PublicKey()
	b := pk.Bytes()
	got, err := PublicKeyFromBytes(b)
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if !got.Equal(pk) {
		t.Fatalf("round-tripped public key should be equal")
	}
	if !bytes.Equal(got.Bytes(), b) {
		t.Fatalf("round-tripped public key bytes should match")
	}
}

func TestSuperMajorityAndBLSThreshold(t *testing.T) {
	cases := []struct {
		n, wantSuper, wantBLS int
	}{
		{7, 5, 3},
		{4, 3, 2},
		{1, 1, 1},
	}
	for _, c := range cases {
		if got := SuperMajorityThreshold(c.n); got != c.wantSuper {
			t.Errorf("SuperMajorityThreshold(%d) = %d, want %d", c.n, got, c.wantSuper)
		}
		if got := BLSThreshold(c.n); got != c.wantBLS {
			t.Errorf("BLSThreshold(%d) = %d, want %d", c.n, got, c.wantBLS)
		}
	}
}
