// Package wire defines the system-kind join-protocol messages and the
// envelope that carries them (spec.md 6), grounded on the teacher's
// p2p.Protocol message-code/tagged-struct conventions, generalized from
// devp2p eth/68 message packets to this overlay's join responses.
package wire

import (
	"crypto/ed25519"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/members"
	"github.com/xornet/xornet/sap"
)

// ResourceProofResponse carries a solved resource-proof puzzle (spec.md 6).
type ResourceProofResponse struct {
	Solution uint64
	Data     []byte
	Nonce    [32]byte
	NonceSig []byte // Ed25519 signature by the elder that issued the nonce
}

// JoinRequest is the single request message the join driver sends,
// optionally carrying a solved resource proof or an aggregated approval
// (spec.md 6).
type JoinRequest struct {
	SectionKey             blscrypto.PublicKey
	ResourceProofResponse  *ResourceProofResponse
	Aggregated             *members.Authed
}

// SigShare is one elder's signature share over a join candidate's node
// state, addressed to a specific key set so the joiner's aggregator can
// find the right bucket (spec.md 6).
type SigShare struct {
	PKSet blscrypto.PublicKeySet
	Index int
	Share blscrypto.SignatureShare
}

// RejectReason tags why a JoinRequest was rejected outright (spec.md 6).
type RejectReason int

const (
	NodeNotReachable RejectReason = iota
	JoinsDisallowed
)

// Rejected is the terminal-failure response variant (spec.md 6/7).
type Rejected struct {
	Reason RejectReason
	Addr   *address.Socket // set only for NodeNotReachable
}

// ResourceChallenge asks the joiner to solve a memory/time-bound puzzle
// before being considered further (spec.md 6).
type ResourceChallenge struct {
	DataSize       uint64
	Difficulty     uint8
	Nonce          [32]byte
	NonceSignature []byte // Ed25519 signature by the issuing elder
}

// Redirect points the joiner at a different (unsigned) SAP -- it carries
// no signature, so it is only ever used for retargeting, never to
// overwrite trusted prefix-map state (spec.md 6/9).
type Redirect struct {
	SAP sap.SAP
}

// Retry asks the joiner to resend, optionally after adopting a newer SAP
// and/or regenerating its identity to match expected_age (spec.md 6).
type Retry struct {
	SAP           sap.Signed
	ProofChain    *chain.Chain
	ExpectedAge   uint8
}

// ApprovalShare carries one elder's signature share toward the
// candidate's admission (spec.md 6).
type ApprovalShare struct {
	SAP           sap.Signed
	SectionChain  *chain.Chain
	NodeState     members.NodeState
	SigShare      SigShare
}

// Approval is the terminal-success response: the joiner is now a member
// (spec.md 6).
type Approval struct {
	SAP          sap.Signed
	GenesisKey   blscrypto.PublicKey
	SectionChain *chain.Chain
	NodeState    members.Authed
}

// JoinResponseKind tags which variant a JoinResponse carries.
type JoinResponseKind int

const (
	KindApproval JoinResponseKind = iota
	KindApprovalShare
	KindRetry
	KindRedirect
	KindResourceChallenge
	KindRejected
)

// JoinResponse is a tagged sum over the six response variants a join
// target may send (spec.md 6).
type JoinResponse struct {
	Kind              JoinResponseKind
	Approval          *Approval
	ApprovalShare     *ApprovalShare
	Retry             *Retry
	Redirect          *Redirect
	ResourceChallenge *ResourceChallenge
	Rejected          *Rejected
}

// DestinationKind tags an envelope's addressing mode.
type DestinationKind int

const (
	DestSection DestinationKind = iota
	DestEndUser
)

// Destination is either a section (by name, authenticated by its current
// section key) or an end user (DestEndUser), addressed by Name alone; it
// carries no socket (spec.md 6).
type Destination struct {
	Kind       DestinationKind
	Name       address.Name
	SectionKey blscrypto.PublicKey
}

// Envelope wraps every outgoing message with a source Ed25519 identity,
// a destination, and exactly one of a JoinRequest or JoinResponse payload
// (spec.md 6: "every outgoing message is wrapped with source identity ...
// destination ... and a message-kind tag").
type Envelope struct {
	SourcePK  ed25519.PublicKey
	SourceSig []byte
	Dest      Destination
	Request   *JoinRequest
	Response  *JoinResponse
}
