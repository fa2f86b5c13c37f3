package wire

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrEnvelopeEmpty is returned when an Envelope carries neither a request
// nor a response payload.
var ErrEnvelopeEmpty = errors.New("wire: envelope carries no payload")

// ErrBadEnvelopeSignature is returned when an envelope's source signature
// fails to verify.
var ErrBadEnvelopeSignature = errors.New("wire: envelope signature invalid")

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// CanonicalBytes deterministically serialises a JoinRequest (spec.md 6).
func (r JoinRequest) CanonicalBytes() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, r.SectionKey.Bytes())
	if r.ResourceProofResponse != nil {
		buf.WriteByte(1)
		writeUint64(&buf, r.ResourceProofResponse.Solution)
		writeBytes(&buf, r.ResourceProofResponse.Data)
		buf.Write(r.ResourceProofResponse.Nonce[:])
		writeBytes(&buf, r.ResourceProofResponse.NonceSig)
	} else {
		buf.WriteByte(0)
	}
	if r.Aggregated != nil {
		buf.WriteByte(1)
		writeBytes(&buf, r.Aggregated.NodeState.CanonicalBytes())
		writeBytes(&buf, r.Aggregated.PK.Bytes())
		writeBytes(&buf, []byte(r.Aggregated.Sig))
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// CanonicalBytes deterministically serialises a JoinResponse, dispatching
// on its Kind (spec.md 6).
func (r JoinResponse) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Kind))
	switch r.Kind {
	case KindApproval:
		a := r.Approval
		writeBytes(&buf, a.SAP.SAP.CanonicalBytes())
		writeBytes(&buf, a.SAP.PK.Bytes())
		writeBytes(&buf, []byte(a.SAP.Sig))
		writeBytes(&buf, a.GenesisKey.Bytes())
		writeBytes(&buf, a.SectionChain.Bytes())
		writeBytes(&buf, a.NodeState.NodeState.CanonicalBytes())
		writeBytes(&buf, a.NodeState.PK.Bytes())
		writeBytes(&buf, []byte(a.NodeState.Sig))
	case KindApprovalShare:
		s := r.ApprovalShare
		writeBytes(&buf, s.SAP.SAP.CanonicalBytes())
		writeBytes(&buf, s.SAP.PK.Bytes())
		writeBytes(&buf, []byte(s.SAP.Sig))
		writeBytes(&buf, s.SectionChain.Bytes())
		writeBytes(&buf, s.NodeState.CanonicalBytes())
		writeUint32(&buf, uint32(s.SigShare.Index))
		writeBytes(&buf, []byte(s.SigShare.Share))
	case KindRetry:
		rt := r.Retry
		writeBytes(&buf, rt.SAP.SAP.CanonicalBytes())
		writeBytes(&buf, rt.SAP.PK.Bytes())
		writeBytes(&buf, []byte(rt.SAP.Sig))
		writeBytes(&buf, rt.ProofChain.Bytes())
		buf.WriteByte(rt.ExpectedAge)
	case KindRedirect:
		writeBytes(&buf, r.Redirect.SAP.CanonicalBytes())
	case KindResourceChallenge:
		c := r.ResourceChallenge
		writeUint64(&buf, c.DataSize)
		buf.WriteByte(c.Difficulty)
		buf.Write(c.Nonce[:])
		writeBytes(&buf, c.NonceSignature)
	case KindRejected:
		rj := r.Rejected
		buf.WriteByte(byte(rj.Reason))
		if rj.Addr != nil {
			buf.WriteByte(1)
			writeBytes(&buf, []byte(rj.Addr.Host))
			writeUint16(&buf, rj.Addr.Port)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// payloadBytes returns the canonical bytes of whichever payload the
// envelope carries.
func (e *Envelope) payloadBytes() ([]byte, error) {
	switch {
	case e.Request != nil:
		return e.Request.CanonicalBytes(), nil
	case e.Response != nil:
		return e.Response.CanonicalBytes(), nil
	default:
		return nil, ErrEnvelopeEmpty
	}
}

// signingBytes is what Sign/Verify operate over: destination plus payload.
func (e *Envelope) signingBytes() ([]byte, error) {
	payload, err := e.payloadBytes()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Dest.Kind))
	buf.Write(e.Dest.Name[:])
	writeBytes(&buf, e.Dest.SectionKey.Bytes())
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Sign sets SourcePK and SourceSig by signing the envelope's destination
// and payload with priv.
func (e *Envelope) Sign(priv ed25519.PrivateKey) error {
	msg, err := e.signingBytes()
	if err != nil {
		return fmt.Errorf("wire: sign envelope: %w", err)
	}
	e.SourcePK = priv.Public().(ed25519.PublicKey)
	e.SourceSig = ed25519.Sign(priv, msg)
	return nil
}

// Verify checks the envelope's source signature over its destination and
// payload.
func (e *Envelope) Verify() error {
	msg, err := e.signingBytes()
	if err != nil {
		return err
	}
	if len(e.SourcePK) != ed25519.PublicKeySize || !ed25519.Verify(e.SourcePK, msg, e.SourceSig) {
		return ErrBadEnvelopeSignature
	}
	return nil
}
