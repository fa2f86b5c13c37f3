package wire

import (
	"crypto/ed25519"
	"testing"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
)

func TestEnvelopeSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keys, _, err := blscrypto.GenerateKeySet(3, 2)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}

	var name address.Name
	name[0] = 0xAB

	env := &Envelope{
		Dest: Destination{Kind: DestSection, Name: name, SectionKey: keys.PublicKey()},
		Request: &JoinRequest{
			SectionKey: keys.PublicKey(),
		},
	}
	if err := env.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !env.SourcePK.Equal(pub) {
		t.Fatalf("expected SourcePK to be set to the signer's public key")
	}
	if err := env.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	env.Dest.Name[0] ^= 0xFF // tamper post-signing
	if err := env.Verify(); err == nil {
		t.Fatalf("expected tampered destination to fail verification")
	}
}

func TestEnvelopeRejectsEmptyPayload(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	env := &Envelope{}
	if err := env.Sign(priv); err == nil {
		t.Fatalf("expected signing an empty envelope to fail")
	}
}

func TestJoinResponseRejectedCanonicalBytes(t *testing.T) {
	addr := &address.Socket{Host: "10.0.0.1", Port: 1234}
	resp := JoinResponse{Kind: KindRejected, Rejected: &Rejected{Reason: NodeNotReachable, Addr: addr}}
	b1 := resp.CanonicalBytes()

	resp2 := JoinResponse{Kind: KindRejected, Rejected: &Rejected{Reason: JoinsDisallowed}}
	b2 := resp2.CanonicalBytes()

	if string(b1) == string(b2) {
		t.Fatalf("expected distinct reasons to produce distinct canonical bytes")
	}
}
