// Package membership implements per-generation membership consensus over
// Node State transitions (spec.md 4.F): elders cast BLS-share-signed votes
// on Join/Leave/Relocate proposals; once a super-majority of elders
// support an identical proposal set, their shares combine into a single
// BLS signature proving the decision. Grounded on the teacher's
// consensus.QuorumTracker (stake-weighted quorum accrual per slot),
// generalized from stake-weighted voting to one-vote-per-elder-share
// voting. The combined threshold signature is recovered with
// blscrypto.Combine directly, not through package aggregator.
package membership

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/members"
)

// Sentinel errors, matching spec.md 7's Consensus error taxonomy.
var (
	ErrJoinRequestForExistingMember = errors.New("membership: join request for existing member")
	ErrMembersAtCapacity            = errors.New("membership: members at capacity")
	ErrLeaveRequestForNonMember     = errors.New("membership: leave request for non-member")
	ErrAttemptedFaultyProposal      = errors.New("membership: voter already marked faulty")
	ErrUnknownVoter                 = errors.New("membership: signature share does not match any elder")
	ErrBadGeneration                = errors.New("membership: vote targets the wrong generation")
)

// BallotKind distinguishes a first-round proposal vote from a second-round
// vote re-affirming an already-supported proposal set (spec.md 4.F).
type BallotKind uint8

const (
	BallotPropose BallotKind = iota
	BallotSuperMajority
)

// Vote is the unsigned content an elder casts for a generation.
type Vote struct {
	Gen       uint64
	Kind      BallotKind
	Proposals []members.NodeState
	Faults    []int // elder indices this voter has observed as faulty
}

// CanonicalBytes deterministically serialises a Vote for signing.
func (v Vote) CanonicalBytes() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, v.Gen)
	buf.WriteByte(byte(v.Kind))
	writeUint32(&buf, uint32(len(v.Proposals)))
	for _, p := range v.Proposals {
		pb := p.CanonicalBytes()
		writeUint32(&buf, uint32(len(pb)))
		buf.Write(pb)
	}
	writeUint32(&buf, uint32(len(v.Faults)))
	for _, f := range v.Faults {
		writeUint32(&buf, uint32(f))
	}
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// SignedVote pairs a Vote with the casting elder's BLS signature share
// over its canonical bytes. The elder's index is recovered from the
// share itself.
type SignedVote struct {
	Vote    Vote
	ShareSig blscrypto.SignatureShare
}

// Decision is the immutable outcome of a decided generation: the adopted
// proposals with a combined BLS signature over their canonical payload.
type Decision struct {
	Gen       uint64
	Proposals []members.NodeState
	Sig       blscrypto.Signature
	PK        blscrypto.PublicKey
}

// ResponseKind tags the three outcomes a vote can produce (spec.md 4.F).
type ResponseKind int

const (
	WaitingForMoreVotes ResponseKind = iota
	Broadcast
	Decided
)

// Response is the result of handling one SignedVote.
type Response struct {
	Kind      ResponseKind
	Broadcast *SignedVote
	Decision  *Decision
}

// membersSnapshot is the read-only view of members at generation gen-1
// against which proposals are validated (spec.md 4.F).
type membersSnapshot interface {
	IsJoined(name address.Name) bool
	Len() int
}

// Consensus tracks in-flight votes, detected faulty voters, and the
// eventual decision for a single generation.
type Consensus struct {
	mu sync.Mutex

	gen    uint64
	elders []address.Name
	keys   blscrypto.PublicKeySet
	prior  membersSnapshot

	lastVoteOf map[int]Vote // last Propose vote cast by each elder, for equivocation checks
	sharesFor  map[string]map[int]blscrypto.SignatureShare // payload -> elder idx -> share
	faulty     map[int]bool
	broadcast  map[string]bool // payloads for which Broadcast has already fired

	decision *Decision
}

// NewConsensus creates an empty consensus object for generation gen over
// elders (ordered to match BLS share indices), validating proposals
// against prior.
func NewConsensus(gen uint64, elders []address.Name, keys blscrypto.PublicKeySet, prior membersSnapshot) *Consensus {
	return &Consensus{
		gen:        gen,
		elders:     elders,
		keys:       keys,
		prior:      prior,
		lastVoteOf: make(map[int]Vote),
		sharesFor:  make(map[string]map[int]blscrypto.SignatureShare),
		faulty:     make(map[int]bool),
		broadcast:  make(map[string]bool),
	}
}

// Gen returns the generation this consensus object decides.
func (c *Consensus) Gen() uint64 {
	return c.gen
}

// DecisionSoFar returns the decision reached so far, if any.
func (c *Consensus) DecisionSoFar() *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// validateProposal checks a single proposed Node State transition against
// the generation-minus-one membership roll (spec.md 4.F).
func (c *Consensus) validateProposal(n members.NodeState) error {
	switch n.State {
	case members.Joined:
		if c.prior.IsJoined(n.Name) {
			return fmt.Errorf("%w: %s", ErrJoinRequestForExistingMember, n.Name)
		}
		if c.prior.Len() >= members.SoftMaxMembers {
			return fmt.Errorf("%w: %d", ErrMembersAtCapacity, members.SoftMaxMembers)
		}
		return nil
	case members.Left, members.Relocated:
		if !c.prior.IsJoined(n.Name) {
			return fmt.Errorf("%w: %s", ErrLeaveRequestForNonMember, n.Name)
		}
		return nil
	default:
		return fmt.Errorf("membership: unknown node state %v", n.State)
	}
}

// Propose builds and signs a first-round vote proposing nodeState, after
// validating it against the prior generation's membership roll.
func (c *Consensus) Propose(nodeState members.NodeState, myShare blscrypto.SecretKeyShare) (SignedVote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateProposal(nodeState); err != nil {
		return SignedVote{}, err
	}

	vote := Vote{Gen: c.gen, Kind: BallotPropose, Proposals: []members.NodeState{nodeState}}
	share, err := blscrypto.Sign(myShare, vote.CanonicalBytes())
	if err != nil {
		return SignedVote{}, fmt.Errorf("membership: propose: %w", err)
	}
	return SignedVote{Vote: vote, ShareSig: share}, nil
}

// HandleSignedVote validates and routes an incoming signed vote, merging
// it into this generation's tally (spec.md 4.F).
func (c *Consensus) HandleSignedVote(sv SignedVote) (Response, error) {
	if sv.Vote.Gen != c.gen {
		return Response{}, fmt.Errorf("%w: want %d, got %d", ErrBadGeneration, c.gen, sv.Vote.Gen)
	}

	idx, err := blscrypto.ShareIndex(sv.ShareSig)
	if err != nil {
		return Response{}, fmt.Errorf("membership: %w: %v", ErrUnknownVoter, err)
	}
	if idx < 0 || idx >= len(c.elders) {
		return Response{}, fmt.Errorf("%w: index %d", ErrUnknownVoter, idx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.faulty[idx] {
		return Response{Kind: WaitingForMoreVotes}, ErrAttemptedFaultyProposal
	}

	payload := sv.Vote.CanonicalBytes()
	if err := blscrypto.VerifyShare(c.keys, payload, sv.ShareSig); err != nil {
		return Response{}, fmt.Errorf("membership: invalid signature share: %w", err)
	}

	for _, p := range sv.Vote.Proposals {
		if err := c.validateProposal(p); err != nil {
			return Response{}, err
		}
	}

	if prior, ok := c.lastVoteOf[idx]; ok {
		if !bytes.Equal(prior.CanonicalBytes(), payload) {
			c.faulty[idx] = true
			return Response{Kind: WaitingForMoreVotes}, nil
		}
	}
	c.lastVoteOf[idx] = sv.Vote

	key := string(payload)
	bucket, ok := c.sharesFor[key]
	if !ok {
		bucket = make(map[int]blscrypto.SignatureShare)
		c.sharesFor[key] = bucket
	}
	bucket[idx] = sv.ShareSig

	majority := blscrypto.SuperMajorityThreshold(len(c.elders))
	if len(bucket) >= majority {
		sig, err := combine(c.keys, payload, bucket)
		if err != nil {
			return Response{}, fmt.Errorf("membership: combine decision signature: %w", err)
		}
		decision := &Decision{Gen: c.gen, Proposals: sv.Vote.Proposals, Sig: sig, PK: c.keys.PublicKey()}
		c.decision = decision
		return Response{Kind: Decided, Decision: decision}, nil
	}

	if len(bucket) >= c.keys.Threshold() && !c.broadcast[key] {
		c.broadcast[key] = true
		broadcastVote := SignedVote{Vote: Vote{Gen: c.gen, Kind: BallotSuperMajority, Proposals: sv.Vote.Proposals}, ShareSig: sv.ShareSig}
		return Response{Kind: Broadcast, Broadcast: &broadcastVote}, nil
	}

	return Response{Kind: WaitingForMoreVotes}, nil
}

func combine(keys blscrypto.PublicKeySet, payload []byte, bucket map[int]blscrypto.SignatureShare) (blscrypto.Signature, error) {
	shares := make([]blscrypto.SignatureShare, 0, len(bucket))
	for _, s := range bucket {
		shares = append(shares, s)
	}
	return blscrypto.Combine(keys, payload, shares)
}
