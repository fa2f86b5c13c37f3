package xnode

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/join"
	"github.com/xornet/xornet/knowledge"
	"github.com/xornet/xornet/log"
	"github.com/xornet/xornet/members"
	"github.com/xornet/xornet/prefixmap"
	"github.com/xornet/xornet/sap"
)

// Node wires configuration, identity, the join driver and the resulting
// NetworkKnowledge into one process, matching the teacher's node.New /
// node.Start composition but scoped to this core's responsibilities.
type Node struct {
	cfg  Config
	priv ed25519.PrivateKey
	name address.Name

	pm *prefixmap.Map

	Lifecycle *LifecycleManager
	Health    *HealthChecker
	log       *log.Logger

	Knowledge *knowledge.NetworkKnowledge
}

// New creates a Node: it initializes the data directory, loads or
// generates the node's identity key, and loads the persisted prefix-map
// cache (starting fresh on any corruption, per spec.md 6).
func New(cfg Config, genesisKey blscrypto.PublicKey, lg *log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("xnode: %w", err)
	}
	if err := cfg.InitDataDir(); err != nil {
		return nil, fmt.Errorf("xnode: %w", err)
	}

	priv, err := LoadOrCreateIdentity(cfg.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("xnode: %w", err)
	}
	name, err := address.NameFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("xnode: derive name from identity: %w", err)
	}

	pm := loadCacheOrFresh(cfg.CachePath(), genesisKey, lg)

	if lg == nil {
		lg = log.Default()
	}
	n := &Node{
		cfg:       cfg,
		priv:      priv,
		name:      name,
		pm:        pm,
		Lifecycle: NewLifecycleManager(DefaultLifecycleConfig()),
		Health:    NewHealthChecker(),
		log:       lg.Module("xnode"),
	}

	healthCheck := NewKnowledgeHealthCheck(n)
	n.Health.RegisterSubsystem("knowledge", healthCheck)
	if err := n.Lifecycle.Register(NewAntiEntropyService(n, healthCheck, DefaultHealthCheckInterval), 0); err != nil {
		return nil, fmt.Errorf("xnode: register anti-entropy service: %w", err)
	}

	return n, nil
}

// loadCacheOrFresh reads the persisted prefix-map cache at path,
// returning a fresh empty map on any read or decode error: corruption is
// not fatal (spec.md 6).
func loadCacheOrFresh(path string, genesisKey blscrypto.PublicKey, lg *log.Logger) *prefixmap.Map {
	data, err := os.ReadFile(path)
	if err != nil {
		return prefixmap.New(genesisKey)
	}
	pm, err := prefixmap.FromBytes(data)
	if err != nil {
		if lg != nil {
			lg.Module("xnode").Warn("prefix-map cache corrupted, starting fresh", "path", path, "err", err)
		}
		return prefixmap.New(genesisKey)
	}
	return pm
}

// SaveCache persists the node's current prefix-map view to disk.
func (n *Node) SaveCache(pm *prefixmap.Map) error {
	if pm == nil {
		return nil
	}
	if err := os.WriteFile(n.cfg.CachePath(), pm.Bytes(), 0600); err != nil {
		return fmt.Errorf("xnode: persist prefix-map cache: %w", err)
	}
	return nil
}

// Name returns the node's address-space identity.
func (n *Node) Name() address.Name {
	return n.name
}

// JoinNetwork drives the join protocol to completion using transport and
// incoming as the send/receive surface, and on success builds the
// node's NetworkKnowledge from the result (spec.md 4.G). The prefix-map
// cache is persisted regardless of outcome, since the driver may have
// learned newer SAPs even from a run that ultimately failed.
func (n *Node) JoinNetwork(ctx context.Context, genesisKey blscrypto.PublicKey, age uint8, transport join.Transport, incoming <-chan join.Incoming) (*join.Result, error) {
	driver := join.NewDriver(join.Config{
		Name:            n.name,
		Peer:            address.Peer{Name: n.name, Socket: n.cfg.ListenSocket()},
		PrivateKey:      n.priv,
		Age:             age,
		GenesisKey:      genesisKey,
		BootstrapElders: n.cfg.BootstrapContacts,
		Cache:           n.pm,
		Transport:       transport,
		Logger:          n.log,
	})

	result, err := driver.Run(ctx, incoming)
	if saveErr := n.SaveCache(driver.PrefixMap()); saveErr != nil {
		n.log.Warn("failed to persist prefix-map cache after join attempt", "err", saveErr)
	}
	if err != nil {
		return nil, err
	}

	nk, err := knowledge.New(result.GenesisKey, n.name, result.SAP, result.SectionChain, n.log)
	if err != nil {
		return nil, fmt.Errorf("xnode: build network knowledge: %w", err)
	}
	n.Knowledge = nk
	return result, nil
}

// FormGenesis bootstraps a brand-new network: this node becomes the sole
// elder of a single-member section rooted at a freshly generated BLS
// key, matching spec.md 3's "chains and maps are created at bootstrap
// (either first-node or via join)". Intended only for cfg.FirstNode.
func (n *Node) FormGenesis() (*join.Result, error) {
	if !n.cfg.FirstNode {
		return nil, errors.New("xnode: FormGenesis called on a non-first-node configuration")
	}

	keys, shares, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		return nil, fmt.Errorf("xnode: generate genesis key set: %w", err)
	}
	genesisKey := keys.PublicKey()

	self := address.Peer{Name: n.name, Socket: n.cfg.ListenSocket()}
	genesisSAP, err := sap.New(address.EmptyPrefix, []address.Peer{self}, keys)
	if err != nil {
		return nil, fmt.Errorf("xnode: build genesis SAP: %w", err)
	}

	payload := genesisSAP.CanonicalBytes()
	share, err := blscrypto.Sign(shares[0], payload)
	if err != nil {
		return nil, fmt.Errorf("xnode: sign genesis SAP: %w", err)
	}
	combined, err := blscrypto.Combine(keys, payload, []blscrypto.SignatureShare{share})
	if err != nil {
		return nil, fmt.Errorf("xnode: combine genesis SAP signature: %w", err)
	}
	signed, err := sap.NewSigned(genesisSAP, combined)
	if err != nil {
		return nil, fmt.Errorf("xnode: finalize genesis SAP: %w", err)
	}

	sectionChain := chain.New(genesisKey)

	nk, err := knowledge.New(genesisKey, n.name, signed, sectionChain, n.log)
	if err != nil {
		return nil, fmt.Errorf("xnode: build genesis network knowledge: %w", err)
	}
	nk.AdoptKeyShare(genesisKey)

	// Record the founder's own membership directly: it is the section's
	// sole elder, so its Joined state is signed by the same solo share
	// used for the genesis SAP (spec.md 3/GLOSSARY: age 255 = network
	// founder).
	founderState := members.NodeState{Name: n.name, Peer: self, State: members.Joined, Age: members.FounderAge}
	founderPayload := founderState.CanonicalBytes()
	founderShare, err := blscrypto.Sign(shares[0], founderPayload)
	if err != nil {
		return nil, fmt.Errorf("xnode: sign founder node state: %w", err)
	}
	founderSig, err := blscrypto.Combine(keys, founderPayload, []blscrypto.SignatureShare{founderShare})
	if err != nil {
		return nil, fmt.Errorf("xnode: combine founder node state signature: %w", err)
	}
	founder := members.Authed{NodeState: founderState, PK: genesisKey, Sig: founderSig}
	if err := nk.Peers.Update(founder, nk.SectionChain()); err != nil {
		return nil, fmt.Errorf("xnode: record founder node state: %w", err)
	}

	n.Knowledge = nk

	if err := n.SaveCache(n.pm); err != nil {
		n.log.Warn("failed to persist prefix-map cache after genesis", "err", err)
	}

	return &join.Result{SAP: signed, GenesisKey: genesisKey, SectionChain: sectionChain}, nil
}
