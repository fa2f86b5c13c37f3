package join

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/xornet/xornet/address"
)

// maxKeygenAttempts bounds regenerateIdentity's search for a fresh
// identity whose name both falls within a target prefix and encodes a
// requested age, so a pathological prefix/age combination cannot hang
// the join loop forever (spec.md 9, open question: "behaviour for
// arbitrary odd ages is not specified").
const maxKeygenAttempts = 1 << 20

// ageEncodingByte is the name byte the requested age is encoded into.
// The original scheme this spec is distilled from reserves name bits for
// age only implicitly through prefix derivation; we make that explicit by
// dedicating the name's last byte to the age, which keeps regeneration a
// simple rejection search instead of a bit-surgery exercise.
const ageEncodingByte = address.NameLen - 1

// ageToPrefix derives the target prefix an identity must fall within to
// be admitted at expectedAge, per spec.md 4.G's iterative halving scheme:
// cur starts at expectedAge/2 and is interpreted as a bit string, pushing
// cur&1 and halving cur each step until it reaches zero. This mirrors the
// original implementation's iterative loop (see SPEC_FULL.md 12) rather
// than a closed-form bit-slice.
func ageToPrefix(expectedAge uint8) address.Prefix {
	cur := uint64(expectedAge) / 2
	p := address.EmptyPrefix
	for cur != 0 {
		p = p.Pushed(uint8(cur & 1))
		cur /= 2
	}
	return p
}

// regenerateIdentity searches for a fresh Ed25519 keypair whose derived
// name both matches prefix and encodes age in ageEncodingByte, as
// required by the Retry response's "expected_age" handling (spec.md
// 4.G).
func regenerateIdentity(prefix address.Prefix, age uint8) (ed25519.PublicKey, ed25519.PrivateKey, address.Name, error) {
	for i := 0; i < maxKeygenAttempts; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, address.Name{}, err
		}
		name, err := address.NameFromPublicKey(pub)
		if err != nil {
			continue
		}
		if !prefix.Matches(name) {
			continue
		}
		if name[ageEncodingByte] != age {
			continue
		}
		return pub, priv, name, nil
	}
	return nil, nil, address.Name{}, ErrKeygenExhausted
}
