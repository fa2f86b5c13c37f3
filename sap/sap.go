// Package sap implements the Section Authority Provider: the authoritative
// description of a section's prefix, elder roster, and threshold BLS key
// set, plus the signed envelope ("Signed SAP") that makes that description
// tamper-evident (spec.md 4.A).
package sap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
)

// ErrElderCountMismatch is returned when an SAP's elder roster doesn't
// match its key set's size.
var ErrElderCountMismatch = errors.New("sap: elder count does not match key set size")

// SAP is a section's authority description: the prefix it is responsible
// for, its ordered elder roster, and the threshold BLS key set shared by
// those elders.
type SAP struct {
	Prefix address.Prefix
	Elders []address.Peer // ordered map(name -> socket): order is significant and part of the signed payload
	Keys   blscrypto.PublicKeySet
}

// New builds an SAP, validating that the elder count matches the key set's
// size (spec.md 3: "pk_set is a BLS threshold public-key set with size
// matching elders").
func New(prefix address.Prefix, elders []address.Peer, keys blscrypto.PublicKeySet) (SAP, error) {
	if len(elders) != keys.Size() {
		return SAP{}, fmt.Errorf("%w: %d elders, key set size %d", ErrElderCountMismatch, len(elders), keys.Size())
	}
	cp := make([]address.Peer, len(elders))
	copy(cp, elders)
	return SAP{Prefix: prefix, Elders: cp, Keys: keys}, nil
}

// SectionKey returns the SAP's BLS public key (the key set's combined
// public key).
func (s SAP) SectionKey() blscrypto.PublicKey {
	return s.Keys.PublicKey()
}

// ElderNames returns the ordered list of elder names.
func (s SAP) ElderNames() []address.Name {
	names := make([]address.Name, len(s.Elders))
	for i, e := range s.Elders {
		names[i] = e.Name
	}
	return names
}

// IsElder reports whether name is one of this SAP's elders.
func (s SAP) IsElder(name address.Name) bool {
	for _, e := range s.Elders {
		if e.Name == name {
			return true
		}
	}
	return false
}

// ElderIndex returns the index of name within the elder roster, matching
// the BLS key-set share index it holds. Returns -1 if name is not an
// elder.
func (s SAP) ElderIndex(name address.Name) int {
	for i, e := range s.Elders {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// CanonicalBytes serializes the SAP deterministically: length-prefixed
// fields in a fixed, canonical order, little-endian integers throughout
// (spec.md 6, "canonical order of map keys"). This is the payload a
// section key signs to produce a SignedSAP, and is also embedded in wire
// messages (package wire) so the codec need not duplicate this logic.
func (s SAP) CanonicalBytes() []byte {
	var buf bytes.Buffer

	writeUint32(&buf, uint32(s.Prefix.Len()))
	buf.Write(s.Prefix.Bytes())

	writeUint32(&buf, uint32(len(s.Elders)))
	for _, e := range s.Elders {
		buf.Write(e.Name[:])
		writeUint32(&buf, uint32(len(e.Socket.Host)))
		buf.WriteString(e.Socket.Host)
		var portBuf [2]byte
		binary.LittleEndian.PutUint16(portBuf[:], e.Socket.Port)
		buf.Write(portBuf[:])
	}

	writeUint32(&buf, uint32(s.Keys.Threshold()))
	writeUint32(&buf, uint32(s.Keys.Size()))
	commits := s.Keys.Commitments()
	writeUint32(&buf, uint32(len(commits)))
	for _, c := range commits {
		cb := c.Bytes()
		writeUint32(&buf, uint32(len(cb)))
		buf.Write(cb)
	}

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
