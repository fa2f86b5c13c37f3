package prefixmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/sap"
)

// Bytes serialises the map as its genesis key followed by every stored
// Signed SAP, length-prefixed and little-endian throughout (spec.md 6:
// "the prefix map is cached on disk keyed by genesis_key").
func (m *Map) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buf bytes.Buffer
	writeBytes(&buf, m.genesisKey.Bytes())
	writeUint32(&buf, uint32(len(m.entries)))
	for _, s := range m.entries {
		encodeSigned(&buf, s)
	}
	return buf.Bytes()
}

// FromBytes reconstructs a Map from its Bytes() encoding. Entries that
// fail to self-verify are dropped rather than causing the whole load to
// fail, since a corrupted cache file must not be fatal (spec.md 6:
// "corruption causes an in-memory fresh start, not a fatal error") --
// here applied per-entry so a single bad record doesn't discard an
// otherwise-good cache.
func FromBytes(data []byte) (*Map, error) {
	r := bytes.NewReader(data)
	genesisBytes, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("prefixmap: decode genesis key: %w", err)
	}
	genesisKey, err := blscrypto.PublicKeyFromBytes(genesisBytes)
	if err != nil {
		return nil, fmt.Errorf("prefixmap: decode genesis key: %w", err)
	}

	n, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("prefixmap: decode entry count: %w", err)
	}

	m := New(genesisKey)
	for i := uint32(0); i < n; i++ {
		signed, err := decodeSigned(r)
		if err != nil {
			return nil, fmt.Errorf("prefixmap: decode entry %d: %w", i, err)
		}
		if err := signed.SelfVerify(); err != nil {
			continue
		}
		m.entries[signed.SAP.Prefix.String()] = signed
	}
	return m, nil
}

func encodeSigned(buf *bytes.Buffer, s sap.Signed) {
	writeUint32(buf, uint32(s.SAP.Prefix.Len()))
	writeBytes(buf, s.SAP.Prefix.Bytes())

	writeUint32(buf, uint32(len(s.SAP.Elders)))
	for _, e := range s.SAP.Elders {
		writeBytes(buf, e.Name[:])
		writeBytes(buf, []byte(e.Socket.Host))
		var portBuf [2]byte
		binary.LittleEndian.PutUint16(portBuf[:], e.Socket.Port)
		buf.Write(portBuf[:])
	}

	writeUint32(buf, uint32(s.SAP.Keys.Threshold()))
	writeUint32(buf, uint32(s.SAP.Keys.Size()))
	commits := s.SAP.Keys.Commitments()
	writeUint32(buf, uint32(len(commits)))
	for _, c := range commits {
		writeBytes(buf, c.Bytes())
	}

	writeBytes(buf, []byte(s.Sig))
}

func decodeSigned(r *bytes.Reader) (sap.Signed, error) {
	prefixLen, err := readUint32(r)
	if err != nil {
		return sap.Signed{}, err
	}
	prefixBytes, err := readBytes(r)
	if err != nil {
		return sap.Signed{}, err
	}
	prefix, err := address.PrefixFromBytes(prefixBytes, int(prefixLen))
	if err != nil {
		return sap.Signed{}, err
	}

	elderCount, err := readUint32(r)
	if err != nil {
		return sap.Signed{}, err
	}
	elders := make([]address.Peer, elderCount)
	for i := range elders {
		nameBytes, err := readBytes(r)
		if err != nil {
			return sap.Signed{}, err
		}
		var name address.Name
		if len(nameBytes) != len(name) {
			return sap.Signed{}, fmt.Errorf("prefixmap: bad elder name length %d", len(nameBytes))
		}
		copy(name[:], nameBytes)

		hostBytes, err := readBytes(r)
		if err != nil {
			return sap.Signed{}, err
		}
		var portBuf [2]byte
		if _, err := io.ReadFull(r, portBuf[:]); err != nil {
			return sap.Signed{}, err
		}
		elders[i] = address.Peer{
			Name:   name,
			Socket: address.Socket{Host: string(hostBytes), Port: binary.LittleEndian.Uint16(portBuf[:])},
		}
	}

	threshold, err := readUint32(r)
	if err != nil {
		return sap.Signed{}, err
	}
	size, err := readUint32(r)
	if err != nil {
		return sap.Signed{}, err
	}
	commitCount, err := readUint32(r)
	if err != nil {
		return sap.Signed{}, err
	}
	commits := make([]blscrypto.PublicKey, commitCount)
	for i := range commits {
		cb, err := readBytes(r)
		if err != nil {
			return sap.Signed{}, err
		}
		pk, err := blscrypto.PublicKeyFromBytes(cb)
		if err != nil {
			return sap.Signed{}, err
		}
		commits[i] = pk
	}
	keys, err := blscrypto.NewPublicKeySet(commits, int(threshold), int(size))
	if err != nil {
		return sap.Signed{}, err
	}

	s, err := sap.New(prefix, elders, keys)
	if err != nil {
		return sap.Signed{}, err
	}

	sigBytes, err := readBytes(r)
	if err != nil {
		return sap.Signed{}, err
	}

	return sap.Signed{SAP: s, PK: s.SectionKey(), Sig: blscrypto.Signature(sigBytes)}, nil
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
