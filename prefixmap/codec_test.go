package prefixmap

import (
	"testing"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/chain"
)

func TestBytesRoundTrip(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	signed := signSection(t, genesis)

	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())
	if _, err := m.Update(signed, c, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	encoded := m.Bytes()
	decoded, err := FromBytes(encoded)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if !decoded.GenesisKey().Equal(m.GenesisKey()) {
		t.Fatalf("genesis key did not round-trip")
	}
	got, ok := decoded.GetSigned(address.EmptyPrefix)
	if !ok {
		t.Fatalf("expected decoded map to contain the stored SAP")
	}
	if !got.SectionKey().Equal(signed.SectionKey()) {
		t.Fatalf("decoded SAP section key mismatch")
	}
	if err := got.SelfVerify(); err != nil {
		t.Fatalf("decoded SAP failed self-verify: %v", err)
	}
}

func TestFromBytesRejectsTruncatedData(t *testing.T) {
	genesis := makeSection(t, address.EmptyPrefix, 3, 2)
	signed := signSection(t, genesis)

	c := chain.New(genesis.keys.PublicKey())
	m := New(genesis.keys.PublicKey())
	if _, err := m.Update(signed, c, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	encoded := m.Bytes()
	if _, err := FromBytes(encoded[:len(encoded)-5]); err == nil {
		t.Fatalf("expected truncated data to fail decoding")
	}
}
