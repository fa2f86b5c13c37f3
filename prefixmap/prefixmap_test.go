package prefixmap

import (
	"testing"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/sap"
)

type section struct {
	sap    sap.SAP
	keys   blscrypto.PublicKeySet
	shares []blscrypto.SecretKeyShare
}

func makeSection(t *testing.T, p address.Prefix, n, threshold int) section {
	t.Helper()
	keys, shares, err := blscrypto.GenerateKeySet(n, threshold)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}
	elders := make([]address.Peer, n)
	for i := 0; i < n; i++ {
		var name address.Name
		name[0] = byte(i + 1)
		elders[i] = address.Peer{Name: name, Socket: address.Socket{Host: "127.0.0.1", Port: uint16(9000 + i)}}
	}
	s, err := sap.New(p, elders, keys)
	if err != nil {
		t.Fatalf("sap.New: %v", err)
	}
	return section{sap: s, keys: keys, shares: shares}
}

func signSection(t *testing.T, s section) sap.Signed {
	t.Helper()
	payload := s.sap.CanonicalBytes()
	threshold := s.keys.Threshold()
	shareSigs := make([]blscrypto.SignatureShare, 0, threshold)
	for i := 0; i < threshold; i++ {
		sig, err := blscrypto.Sign(s.shares[i], payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		shareSigs = append(shareSigs, sig)
	}
	combined, err := blscrypto.Combine(s.keys, payload, shareSigs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	signed, err := sap.NewSigned(s.sap, combined)
	if err != nil {
		t.Fatalf("NewSigned: %v", err)
	}
	return signed
}

func TestUpdateAdmitsGenesisSection(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	signed := signSection(t, genesis)

	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())

	stored, err := m.Update(signed, c, c)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !stored {
		t.Fatalf("expected genesis update to be stored")
	}

	got, ok := m.GetSigned(address.EmptyPrefix)
	if !ok || !got.SectionKey().Equal(signed.SectionKey()) {
		t.Fatalf("expected stored SAP to be retrievable")
	}

	// Re-applying the identical update is not novel.
	stored, err = m.Update(signed, c, c)
	if err != nil {
		t.Fatalf("Update (repeat): %v", err)
	}
	if stored {
		t.Fatalf("expected repeat update to report false (already current)")
	}
}

func TestUpdateRejectsUnverifiableSAP(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	signed := signSection(t, genesis)
	signed.SAP.Prefix = signed.SAP.Prefix.Pushed(1) // tamper post-signing

	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())

	if _, err := m.Update(signed, c, c); err == nil {
		t.Fatalf("expected tampered SAP to be rejected")
	}
}

func TestUpdateRejectsWrongGenesis(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	signed := signSection(t, genesis)

	other := makeSection(t, address.EmptyPrefix, 3, 2)
	c := chain.New(other.keys.PublicKey()) // wrong root
	m := New(genesis.keys.PublicKey())

	if _, err := m.Update(signed, c, c); err == nil {
		t.Fatalf("expected genesis mismatch to be rejected")
	}
}

func TestUpdateAcceptsSplitIntoSiblings(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	genesisSigned := signSection(t, genesis)

	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())
	if _, err := m.Update(genesisSigned, c, c); err != nil {
		t.Fatalf("Update genesis: %v", err)
	}

	left := makeSection(t, address.NewPrefix(0), 3, 2)
	leftSigned := signSection(t, left)
	leftProof := chain.New(genesis.keys.PublicKey())
	if err := leftProof.ExtendMain(genesis.keys.PublicKey(), left.keys.PublicKey(), combinedSig(t, genesis, left.keys.PublicKey().Bytes())); err != nil {
		t.Fatalf("ExtendMain left proof: %v", err)
	}

	stored, err := m.Update(leftSigned, leftProof, leftProof)
	if err != nil {
		t.Fatalf("Update left split: %v", err)
	}
	if !stored {
		t.Fatalf("expected left split to be stored")
	}
}

func combinedSig(t *testing.T, signer section, payload []byte) blscrypto.Signature {
	t.Helper()
	threshold := signer.keys.Threshold()
	shareSigs := make([]blscrypto.SignatureShare, 0, threshold)
	for i := 0; i < threshold; i++ {
		sig, err := blscrypto.Sign(signer.shares[i], payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		shareSigs = append(shareSigs, sig)
	}
	combined, err := blscrypto.Combine(signer.keys, payload, shareSigs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	return combined
}

func TestClosestOrOpposite(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())

	genesisSigned := signSection(t, genesis)
	if _, err := m.Update(genesisSigned, c, c); err != nil {
		t.Fatalf("Update genesis: %v", err)
	}

	var name address.Name
	name[0] = 0b10000000

	got, ok := m.ClosestOrOpposite(name, nil)
	if !ok || !got.SAP.Prefix.Equal(address.EmptyPrefix) {
		t.Fatalf("expected genesis prefix as closest match")
	}
}
