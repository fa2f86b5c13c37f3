package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xornet/xornet/blscrypto"
)

// Bytes serialises the chain as its root key followed by every edge
// (parent, child, signature), each length-prefixed, little-endian,
// matching the wire encoding convention used throughout this repository
// (spec.md 6: "length-prefixed fields, little-endian integers").
func (c *Chain) Bytes() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, c.root.Bytes())
	writeUint32(&buf, uint32(len(c.edges)))
	for _, e := range c.edges {
		writeBytes(&buf, e.Parent.Bytes())
		writeBytes(&buf, e.Child.Bytes())
		writeBytes(&buf, []byte(e.Sig))
	}
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// FromBytes reconstructs a Chain from its Bytes() encoding. Edges are
// inserted in a fixed-point loop so that the encoding's edge order does
// not need to be topologically sorted; any edge that never becomes
// insertable (dangling parent, or fails signature verification) is
// dropped rather than causing an error, mirroring Join's tolerance for
// partial/unverifiable input.
func FromBytes(data []byte) (*Chain, error) {
	r := bytes.NewReader(data)
	rootBytes, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("chain: decode root: %w", err)
	}
	root, err := blscrypto.PublicKeyFromBytes(rootBytes)
	if err != nil {
		return nil, fmt.Errorf("chain: decode root key: %w", err)
	}
	c := New(root)

	n, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("chain: decode edge count: %w", err)
	}

	pending := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		parentBytes, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("chain: decode edge %d parent: %w", i, err)
		}
		childBytes, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("chain: decode edge %d child: %w", i, err)
		}
		sigBytes, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("chain: decode edge %d signature: %w", i, err)
		}
		parent, err := blscrypto.PublicKeyFromBytes(parentBytes)
		if err != nil {
			return nil, fmt.Errorf("chain: decode edge %d parent key: %w", i, err)
		}
		child, err := blscrypto.PublicKeyFromBytes(childBytes)
		if err != nil {
			return nil, fmt.Errorf("chain: decode edge %d child key: %w", i, err)
		}
		pending = append(pending, Entry{Parent: parent, Child: child, Sig: blscrypto.Signature(sigBytes)})
	}

	for {
		progressed := false
		remaining := pending[:0]
		for _, e := range pending {
			if c.HasKey(e.Child) {
				continue
			}
			if !c.HasKey(e.Parent) {
				remaining = append(remaining, e)
				continue
			}
			if err := c.Extend(e.Parent, e.Child, e.Sig); err != nil {
				continue // unverifiable edge: drop, matching Join's tolerance
			}
			progressed = true
		}
		pending = remaining
		if !progressed || len(pending) == 0 {
			break
		}
	}

	return c, nil
}
