// Package join implements the client-side join protocol state machine
// (spec.md 4.G): discover a section, prove reachability via a resource
// proof, obtain an age-assigned identity, and collect a threshold-signed
// approval.
//
// The send and receive halves of the driver run as sibling tasks linked
// by a capacity-1 channel, modeled with golang.org/x/sync/errgroup
// (spec.md 5), so that a slow transport applies back-pressure to the
// driver rather than the driver silently queuing unbounded sends.
package join

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/aggregator"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/log"
	"github.com/xornet/xornet/members"
	"github.com/xornet/xornet/prefixmap"
	"github.com/xornet/xornet/resourceproof"
	"github.com/xornet/xornet/sap"
	"github.com/xornet/xornet/wire"
)

// State is one stage of the join state machine (spec.md 4.G).
type State int

const (
	Initial State = iota
	RequestingResourceProof
	ProvingResource
	AwaitingApproval
	AggregatingShares
	Approved
	RejectedState
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case RequestingResourceProof:
		return "RequestingResourceProof"
	case ProvingResource:
		return "ProvingResource"
	case AwaitingApproval:
		return "AwaitingApproval"
	case AggregatingShares:
		return "AggregatingShares"
	case Approved:
		return "Approved"
	case RejectedState:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Transport sends a signed envelope to a single socket. Implementations
// are expected to be non-blocking with respect to the join loop: a slow
// or failed send is logged, not propagated as a fatal error (spec.md 7).
type Transport interface {
	Send(ctx context.Context, to address.Socket, env wire.Envelope) error
}

// Incoming pairs a received JoinResponse with the socket it arrived
// from.
type Incoming struct {
	From address.Socket
	Resp wire.JoinResponse
}

// Result is what a successful join_network run produces: enough material
// to build a fresh NetworkKnowledge (spec.md 4.G: "build a fresh
// NetworkKnowledge from it and terminate successfully").
type Result struct {
	SAP          sap.Signed
	GenesisKey   blscrypto.PublicKey
	SectionChain *chain.Chain
	NodeState    members.Authed
}

// Config supplies a Driver with the joiner's identity and starting
// point.
type Config struct {
	Name       address.Name
	Peer       address.Peer
	PrivateKey ed25519.PrivateKey
	Age        uint8
	GenesisKey blscrypto.PublicKey

	// BootstrapElders is used when Cache holds no entry for Name
	// (spec.md 4.G step 1-2).
	BootstrapElders []address.Peer

	// Cache is the on-disk prefix-map cache, already loaded by the
	// embedding xnode process (nil selects a fresh, empty map).
	Cache *prefixmap.Map

	Transport Transport
	Logger    *log.Logger
}

type sendJob struct {
	to  []address.Peer
	req wire.JoinRequest
}

// Driver drives one join attempt to completion or fatal rejection. It is
// not safe for concurrent use by multiple goroutines other than its own
// Run call.
type Driver struct {
	cfg Config

	mu   sync.Mutex
	name address.Name
	peer address.Peer
	priv ed25519.PrivateKey
	age  uint8

	state State

	targetElders []address.Peer
	targetKey    blscrypto.PublicKey

	sentRedirects map[string]bool

	pm         *prefixmap.Map
	localChain *chain.Chain

	agg            *aggregator.Aggregator
	nodeStateBytes []byte

	backoff *Backoff
	log     *log.Logger
}

// NewDriver builds a Driver from cfg, resolving the initial join target
// from the prefix-map cache if it already knows a section for cfg.Name,
// falling back to the bootstrap contacts and genesis key otherwise
// (spec.md 4.G steps 1-2).
func NewDriver(cfg Config) *Driver {
	pm := cfg.Cache
	if pm == nil {
		pm = prefixmap.New(cfg.GenesisKey)
	}

	targetElders := cfg.BootstrapElders
	targetKey := cfg.GenesisKey
	if signed, ok := pm.SectionByName(cfg.Name); ok {
		targetElders = signed.SAP.Elders
		targetKey = signed.SectionKey()
	}

	lg := cfg.Logger
	if lg == nil {
		lg = log.Default()
	}

	return &Driver{
		cfg:           cfg,
		name:          cfg.Name,
		peer:          cfg.Peer,
		priv:          cfg.PrivateKey,
		age:           cfg.Age,
		state:         Initial,
		targetElders:  targetElders,
		targetKey:     targetKey,
		sentRedirects: make(map[string]bool),
		pm:            pm,
		localChain:    chain.New(cfg.GenesisKey),
		agg:           aggregator.New(aggregator.DefaultTTL),
		backoff:       NewBackoff(),
		log:           lg.Module("join"),
	}
}

// State returns the driver's current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Name returns the driver's current identity name, which may have
// changed since NewDriver if a Retry response triggered identity
// regeneration.
func (d *Driver) Name() address.Name {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// PrefixMap returns the driver's accumulated prefix-map cache, useful for
// persisting it to disk regardless of whether the join ultimately
// succeeds.
func (d *Driver) PrefixMap() *prefixmap.Map {
	return d.pm
}

// Run drives the join protocol until it reaches Approval, a fatal
// rejection, or ctx is cancelled. The caller is responsible for an outer
// wall-clock timeout (spec.md 5: "the join loop has no internal
// wall-clock timeout").
func (d *Driver) Run(ctx context.Context, incoming <-chan Incoming) (*Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	sendCh := make(chan sendJob, 1)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case job, ok := <-sendCh:
				if !ok {
					return nil
				}
				d.dispatch(ctx, job)
			}
		}
	})

	var result *Result
	g.Go(func() error {
		defer close(sendCh)

		if err := d.sendRequest(ctx, sendCh, d.targetElders, wire.JoinRequest{SectionKey: d.targetKey}); err != nil {
			return err
		}
		d.state = RequestingResourceProof

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case inc, ok := <-incoming:
				if !ok {
					return errors.New("join: incoming response channel closed")
				}
				res, err := d.handleResponse(ctx, sendCh, inc)
				if err != nil {
					if errors.Is(err, errRestart) {
						d.resetToGenesis()
						if sendErr := d.sendRequest(ctx, sendCh, d.targetElders, wire.JoinRequest{SectionKey: d.targetKey}); sendErr != nil {
							return sendErr
						}
						continue
					}
					if errors.Is(err, ErrNodeNotReachable) || errors.Is(err, ErrTryJoinLater) {
						d.state = RejectedState
						return err
					}
					d.log.Warn("join response error, continuing", "err", err)
					continue
				}
				if res != nil {
					result = res
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// dispatch sends job.req to every peer in job.to. Send failures are
// logged and do not abort the loop (spec.md 7: "I/O send failures are
// logged and the loop proceeds").
func (d *Driver) dispatch(ctx context.Context, job sendJob) {
	for _, p := range job.to {
		env := wire.Envelope{
			Dest: wire.Destination{
				Kind:       wire.DestSection,
				Name:       d.name,
				SectionKey: job.req.SectionKey,
			},
			Request: &job.req,
		}
		if err := env.Sign(d.priv); err != nil {
			d.log.Error("sign join request", "err", err)
			continue
		}
		if err := d.cfg.Transport.Send(ctx, p.Socket, env); err != nil {
			d.log.Warn("send join request failed", "to", p.Socket, "err", err)
		}
	}
}

// sendRequest queues req for delivery to every peer in to, respecting
// the capacity-1 channel's back-pressure.
func (d *Driver) sendRequest(ctx context.Context, sendCh chan<- sendJob, to []address.Peer, req wire.JoinRequest) error {
	select {
	case sendCh <- sendJob{to: to, req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resetToGenesis restarts the join attempt from the bootstrap contacts
// and genesis key, used when an ApprovalShare arrives for a key set that
// no longer matches our current target (spec.md 6 table, ApprovalShare
// row: "on errors other than NotEnoughShares restart join if the share's
// pk differs from the current target").
func (d *Driver) resetToGenesis() {
	d.targetElders = d.cfg.BootstrapElders
	d.targetKey = d.cfg.GenesisKey
	d.nodeStateBytes = nil
	d.state = Initial
	d.backoff.Reset()
}

// handleResponse dispatches one JoinResponse per the table in spec.md
// 4.G.
func (d *Driver) handleResponse(ctx context.Context, sendCh chan<- sendJob, inc Incoming) (*Result, error) {
	resp := inc.Resp
	switch resp.Kind {
	case wire.KindRejected:
		return nil, d.handleRejected(resp.Rejected)
	case wire.KindResourceChallenge:
		return nil, d.handleResourceChallenge(ctx, sendCh, resp.ResourceChallenge)
	case wire.KindRedirect:
		return nil, d.handleRedirect(ctx, sendCh, resp.Redirect)
	case wire.KindRetry:
		return nil, d.handleRetry(ctx, sendCh, resp.Retry)
	case wire.KindApprovalShare:
		return nil, d.handleApprovalShare(ctx, sendCh, resp.ApprovalShare)
	case wire.KindApproval:
		return d.handleApproval(resp.Approval)
	default:
		return nil, fmt.Errorf("join: unknown response kind %v", resp.Kind)
	}
}

func (d *Driver) handleRejected(r *wire.Rejected) error {
	switch r.Reason {
	case wire.NodeNotReachable:
		addr := "unknown"
		if r.Addr != nil {
			addr = r.Addr.String()
		}
		return fmt.Errorf("%w: %s", ErrNodeNotReachable, addr)
	case wire.JoinsDisallowed:
		return ErrTryJoinLater
	default:
		return fmt.Errorf("join: unknown rejection reason %v", r.Reason)
	}
}

func (d *Driver) handleResourceChallenge(ctx context.Context, sendCh chan<- sendJob, c *wire.ResourceChallenge) error {
	d.state = ProvingResource
	data := resourceproof.GenerateData(c.Nonce, c.DataSize)
	solution, err := resourceproof.Solve(data, c.Difficulty)
	if err != nil {
		return fmt.Errorf("join: solve resource proof: %w", err)
	}
	req := wire.JoinRequest{
		SectionKey: d.targetKey,
		ResourceProofResponse: &wire.ResourceProofResponse{
			Solution: solution,
			Data:     data,
			Nonce:    c.Nonce,
			NonceSig: c.NonceSignature,
		},
	}
	d.state = AwaitingApproval
	return d.sendRequest(ctx, sendCh, d.targetElders, req)
}

// handleRedirect retargets the joiner at a new (unsigned) SAP. An empty
// elder set or a prefix that doesn't match our name is ignored outright
// (spec.md 8 scenario 3); redirects already sent to the same (addr,
// section key) pair are suppressed to avoid resending to a target we've
// already contacted (spec.md 12, "Redirect de-duplication").
func (d *Driver) handleRedirect(ctx context.Context, sendCh chan<- sendJob, r *wire.Redirect) error {
	if len(r.SAP.Elders) == 0 {
		return nil
	}
	if !r.SAP.Prefix.Matches(d.name) {
		return nil
	}

	newKey := r.SAP.SectionKey()
	anyFresh := false
	for _, e := range r.SAP.Elders {
		if !d.sentRedirects[dedupKey(e.Socket, newKey)] {
			anyFresh = true
		}
	}
	if !anyFresh {
		return nil
	}
	for _, e := range r.SAP.Elders {
		d.sentRedirects[dedupKey(e.Socket, newKey)] = true
	}

	d.targetElders = r.SAP.Elders
	d.targetKey = newKey
	if err := d.backoff.Wait(ctx); err != nil {
		return err
	}
	return d.sendRequest(ctx, sendCh, d.targetElders, wire.JoinRequest{SectionKey: d.targetKey})
}

func dedupKey(s address.Socket, k blscrypto.PublicKey) string {
	return s.String() + "|" + k.String()
}

// handleRetry updates the prefix map with the Retry's SAP if novel, then
// either regenerates our identity to match expected_age (when our
// current age differs and we haven't already started aggregating
// shares) or simply resends with the new section key (spec.md 4.G). A
// Retry whose SAP prefix does not match our name is a stale or
// misdirected response and is ignored outright (spec.md 8 scenario 5).
func (d *Driver) handleRetry(ctx context.Context, sendCh chan<- sendJob, r *wire.Retry) error {
	if !r.SAP.SAP.Prefix.Matches(d.name) {
		return nil
	}

	if stored, err := d.pm.Update(r.SAP, r.ProofChain, d.localChain); err != nil {
		d.log.Warn("retry SAP update rejected", "err", err)
	} else if stored {
		_ = d.localChain.Join(r.ProofChain)
	}

	if d.age != r.ExpectedAge && d.state < AggregatingShares {
		prefix := ageToPrefix(r.ExpectedAge)
		_, priv, name, err := regenerateIdentity(prefix, r.ExpectedAge)
		if err != nil {
			return fmt.Errorf("join: regenerate identity for age %d: %w", r.ExpectedAge, err)
		}
		d.priv = priv
		d.name = name
		d.peer.Name = name
		d.age = r.ExpectedAge
	}

	d.targetElders = r.SAP.SAP.Elders
	d.targetKey = r.SAP.SectionKey()
	if err := d.backoff.Wait(ctx); err != nil {
		return err
	}
	return d.sendRequest(ctx, sendCh, d.targetElders, wire.JoinRequest{SectionKey: d.targetKey})
}

// handleApprovalShare updates the prefix map with the share's SAP,
// caches the serialised node-state payload, and feeds the share into the
// aggregator. Once threshold shares combine, it sends the second
// JoinRequest carrying the aggregated approval -- with no backoff, per
// spec.md 5 ("not before ... aggregated-approval sends") -- to the new
// elder set.
func (d *Driver) handleApprovalShare(ctx context.Context, sendCh chan<- sendJob, s *wire.ApprovalShare) error {
	if stored, err := d.pm.Update(s.SAP, s.SectionChain, d.localChain); err != nil {
		d.log.Warn("approval-share SAP update rejected", "err", err)
	} else if stored {
		_ = d.localChain.Join(s.SectionChain)
	}

	if d.nodeStateBytes == nil {
		d.nodeStateBytes = s.NodeState.CanonicalBytes()
	}
	d.state = AggregatingShares

	keys := s.SigShare.PKSet
	combined, err := d.agg.Add(keys, d.nodeStateBytes, s.SigShare.Share)
	if err != nil {
		if errors.Is(err, aggregator.ErrNotEnoughShares) {
			return nil
		}
		if !keys.PublicKey().Equal(d.targetKey) {
			return errRestart
		}
		return fmt.Errorf("join: aggregate approval share: %w", err)
	}

	authed := members.Authed{NodeState: s.NodeState, PK: keys.PublicKey(), Sig: combined}
	req := wire.JoinRequest{SectionKey: d.targetKey, Aggregated: &authed}
	return d.sendRequest(ctx, sendCh, s.SAP.SAP.Elders, req)
}

// handleApproval validates the terminal Approval response and builds the
// Result the caller will use to construct a fresh NetworkKnowledge
// (spec.md 4.G).
func (d *Driver) handleApproval(a *wire.Approval) (*Result, error) {
	if a.NodeState.NodeState.Name != d.name {
		return nil, fmt.Errorf("join: approval for wrong name %s (want %s)", a.NodeState.NodeState.Name, d.name)
	}
	if err := a.NodeState.Verify(a.SectionChain); err != nil {
		return nil, fmt.Errorf("join: approval node-state verification failed: %w", err)
	}
	d.state = Approved
	return &Result{
		SAP:          a.SAP,
		GenesisKey:   a.GenesisKey,
		SectionChain: a.SectionChain,
		NodeState:    a.NodeState,
	}, nil
}
