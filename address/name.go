// Package address implements the 256-bit address space that peers and
// sections are located in: node names, bit-prefixes over those names, and
// the peer/socket pair a name resolves to.
//
// Name is a renamed, bit-oriented generalization of the teacher's
// p2p/enode.NodeID ([32]byte identifier with XOR distance); it is extended
// here with per-bit access and prefix pushing because section membership,
// unlike devp2p's Kademlia routing, needs to reason about arbitrary-length
// bit-prefixes rather than just overall XOR distance.
package address

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// NameLen is the length of a Name in bytes (256 bits).
const NameLen = 32

// Name is a 256-bit address-space identifier derived from a peer's Ed25519
// public key.
type Name [NameLen]byte

// ErrWrongNameLength is returned when decoding a Name from the wrong number
// of bytes.
var ErrWrongNameLength = errors.New("address: name must be 32 bytes")

// NameFromPublicKey derives a Name from an Ed25519 public key by taking the
// key's raw bytes directly: ed25519.PublicKey is already 32 bytes, so no
// hashing step is required (unlike secp256k1-based devp2p IDs, which hash a
// 33/65-byte key down to 32 bytes).
func NameFromPublicKey(pub ed25519.PublicKey) (Name, error) {
	var n Name
	if len(pub) != ed25519.PublicKeySize {
		return n, fmt.Errorf("address: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	copy(n[:], pub)
	return n, nil
}

// String returns the hex-encoded name.
func (n Name) String() string {
	return hex.EncodeToString(n[:])
}

// IsZero reports whether the name is all zeros.
func (n Name) IsZero() bool {
	return n == Name{}
}

// ParseName parses a hex-encoded name. The "0x" prefix is optional.
func ParseName(s string) (Name, error) {
	var n Name
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != NameLen {
		return n, ErrWrongNameLength
	}
	copy(n[:], b)
	return n, nil
}

// Bit returns the i-th bit of the name, most-significant first: Bit(0) is
// the top bit of the first byte.
func (n Name) Bit(i int) uint8 {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return (n[byteIdx] >> bitIdx) & 1
}

// Distance returns the XOR log-distance between two names: the index of
// the most significant bit at which they differ, counted from the most
// significant bit (0) down to NameLen*8-1, or NameLen*8 if equal.
//
// Grounded on p2p/enode.Distance (teacher), generalized from 64-bit words
// scanned big-endian to our MSB-first bit addressing.
func Distance(a, b Name) int {
	for i := 0; i < NameLen; i++ {
		x := a[i] ^ b[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return NameLen * 8
}

// DistCmp compares the XOR distances from target to a and to b. It returns
// -1 if a is closer, 1 if b is closer, 0 if equidistant.
//
// Grounded on p2p/enode.DistCmp (teacher).
func DistCmp(target, a, b Name) int {
	for i := 0; i < NameLen; i++ {
		da := target[i] ^ a[i]
		db := target[i] ^ b[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CommonPrefixLen returns the number of leading bits a and b share.
func CommonPrefixLen(a, b Name) int {
	return Distance(a, b)
}
