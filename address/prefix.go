package address

import (
	"errors"
	"strings"
)

// Prefix is a bit-string of length 0..256 identifying a subtree of the
// address space. Bits beyond Len are meaningless and always zero.
type Prefix struct {
	bits [NameLen]byte
	len  int
}

// EmptyPrefix is the zero-length prefix matching every name.
var EmptyPrefix = Prefix{}

// NewPrefix builds a Prefix from a slice of bits (0 or 1), most-significant
// first. Panics if len(bitValues) > NameLen*8, mirroring the other
// constructors in this package which operate on a fixed 256-bit space.
func NewPrefix(bitValues ...uint8) Prefix {
	if len(bitValues) > NameLen*8 {
		panic("address: prefix longer than the address space")
	}
	var p Prefix
	for _, b := range bitValues {
		p = p.Pushed(b)
	}
	return p
}

// Len returns the number of significant bits in the prefix.
func (p Prefix) Len() int {
	return p.len
}

// Bit returns the i-th bit of the prefix. Panics if i >= p.Len().
func (p Prefix) Bit(i int) uint8 {
	if i >= p.len {
		panic("address: bit index out of range for prefix")
	}
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return (p.bits[byteIdx] >> bitIdx) & 1
}

// Pushed returns a new Prefix with bit appended at the end.
func (p Prefix) Pushed(bit uint8) Prefix {
	if p.len >= NameLen*8 {
		return p
	}
	np := p
	byteIdx := np.len / 8
	bitIdx := 7 - uint(np.len%8)
	if bit != 0 {
		np.bits[byteIdx] |= 1 << bitIdx
	} else {
		np.bits[byteIdx] &^= 1 << bitIdx
	}
	np.len++
	return np
}

// Popped returns the prefix with its last bit removed. No-op on an empty
// prefix.
func (p Prefix) Popped() Prefix {
	if p.len == 0 {
		return p
	}
	np := p
	np.len--
	byteIdx := np.len / 8
	bitIdx := 7 - uint(np.len%8)
	np.bits[byteIdx] &^= 1 << bitIdx
	return np
}

// Matches reports whether name falls within the subtree denoted by p: the
// first p.Len() bits of name equal p's bits.
func (p Prefix) Matches(name Name) bool {
	for i := 0; i < p.len; i++ {
		byteIdx := i / 8
		bitIdx := 7 - uint(i%8)
		pBit := (p.bits[byteIdx] >> bitIdx) & 1
		nBit := (name[byteIdx] >> bitIdx) & 1
		if pBit != nBit {
			return false
		}
	}
	return true
}

// IsExtensionOf reports whether p is a strict or non-strict descendant of
// other: other's bits are a prefix of p's bits and p.Len() >= other.Len().
func (p Prefix) IsExtensionOf(other Prefix) bool {
	if p.len < other.len {
		return false
	}
	for i := 0; i < other.len; i++ {
		if p.Bit(i) != other.Bit(i) {
			return false
		}
	}
	return true
}

// Sibling returns the prefix obtained by flipping the last bit. Returns p
// unchanged if p is empty (the root has no sibling).
func (p Prefix) Sibling() Prefix {
	if p.len == 0 {
		return p
	}
	np := p
	lastIdx := np.len - 1
	byteIdx := lastIdx / 8
	bitIdx := 7 - uint(lastIdx%8)
	np.bits[byteIdx] ^= 1 << bitIdx
	return np
}

// IsCompatibleWith reports whether p and other are equal or one extends the
// other -- i.e. neither contradicts the other over their shared length.
func (p Prefix) IsCompatibleWith(other Prefix) bool {
	minLen := p.len
	if other.len < minLen {
		minLen = other.len
	}
	for i := 0; i < minLen; i++ {
		if p.Bit(i) != other.Bit(i) {
			return false
		}
	}
	return true
}

// Equal reports whether p and other denote the same subtree.
func (p Prefix) Equal(other Prefix) bool {
	return p.len == other.len && p.IsCompatibleWith(other)
}

// String renders the prefix as a string of '0'/'1' characters.
func (p Prefix) String() string {
	var b strings.Builder
	for i := 0; i < p.len; i++ {
		if p.Bit(i) == 0 {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

// BitCount is an alias for Len, matching the spec's bit_count() operation
// name.
func (p Prefix) BitCount() int {
	return p.len
}

// Bytes returns the prefix's underlying bits, zero-padded to NameLen bytes.
// Only the first Len() bits are significant.
func (p Prefix) Bytes() []byte {
	b := make([]byte, NameLen)
	copy(b, p.bits[:])
	return b
}

// PrefixFromBytes reconstructs a Prefix from its zero-padded byte
// representation and bit length, as produced by Bytes().
func PrefixFromBytes(b []byte, length int) (Prefix, error) {
	if len(b) != NameLen {
		return Prefix{}, ErrWrongNameLength
	}
	if length < 0 || length > NameLen*8 {
		return Prefix{}, errors.New("address: prefix length out of range")
	}
	var p Prefix
	copy(p.bits[:], b)
	p.len = length
	return p, nil
}

// CommonPrefixLen returns the number of leading bits p and other share.
func (p Prefix) CommonPrefixLen(other Prefix) int {
	minLen := p.len
	if other.len < minLen {
		minLen = other.len
	}
	i := 0
	for ; i < minLen; i++ {
		if p.Bit(i) != other.Bit(i) {
			break
		}
	}
	return i
}

// CmpDistance orders two prefixes by closeness to name: the one with the
// longer matching common-prefix-length against name is "closer". Returns
// -1 if p is closer, 1 if other is closer, 0 if tied.
func (p Prefix) CmpDistance(other Prefix, name Name) int {
	var nameAsPrefix Prefix
	nameAsPrefix.len = NameLen * 8
	nameAsPrefix.bits = name

	pcl := p.CommonPrefixLen(nameAsPrefix)
	ocl := other.CommonPrefixLen(nameAsPrefix)
	switch {
	case pcl > ocl:
		return -1
	case pcl < ocl:
		return 1
	default:
		return 0
	}
}
