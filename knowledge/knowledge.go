// Package knowledge implements NetworkKnowledge, the composite view a
// joined node keeps of its section's authority, chain and peers, and the
// anti-entropy update rule that keeps it current (spec.md 4.H).
package knowledge

import (
	"fmt"
	"sync"

	"github.com/xornet/xornet/address"
	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/chain"
	"github.com/xornet/xornet/log"
	"github.com/xornet/xornet/members"
	"github.com/xornet/xornet/prefixmap"
	"github.com/xornet/xornet/sap"
)

// NetworkKnowledge is the full picture one node holds of its section:
// the current Signed SAP, the local section chain reaching it from
// genesis, the all-sections DAG accumulated from every proof chain ever
// observed, and the section's peer roll. Each is guarded by its own lock
// (spec.md 5: "NetworkKnowledge fields are held under independent
// readers-writer locks"); Peers is self-synchronized and needs no outer
// lock at all.
type NetworkKnowledge struct {
	genesisKey blscrypto.PublicKey
	selfName   address.Name

	pm *prefixmap.Map

	sapMu sync.RWMutex
	sap   sap.Signed

	chainMu      sync.RWMutex
	sectionChain *chain.Chain

	dagMu sync.RWMutex
	dag   *chain.Chain

	shareMu  sync.RWMutex
	shareKey blscrypto.PublicKey // zero value: we hold no elder share

	Peers *members.Set

	log *log.Logger
}

// New builds a NetworkKnowledge rooted at genesisKey, seeded with the
// Signed SAP and chain a successful join produced (spec.md 4.G:
// "build a fresh NetworkKnowledge from it and terminate successfully").
func New(genesisKey blscrypto.PublicKey, selfName address.Name, signedSAP sap.Signed, sectionChain *chain.Chain, lg *log.Logger) (*NetworkKnowledge, error) {
	pm := prefixmap.New(genesisKey)
	if _, err := pm.Update(signedSAP, sectionChain, sectionChain); err != nil {
		return nil, fmt.Errorf("knowledge: seed prefix map: %w", err)
	}
	dag := chain.New(genesisKey)
	if err := dag.Join(sectionChain); err != nil {
		return nil, fmt.Errorf("knowledge: seed DAG: %w", err)
	}
	if lg == nil {
		lg = log.Default()
	}
	return &NetworkKnowledge{
		genesisKey:   genesisKey,
		selfName:     selfName,
		pm:           pm,
		sap:          signedSAP,
		sectionChain: sectionChain,
		dag:          dag,
		Peers:        members.New(),
		log:          lg.Module("knowledge"),
	}, nil
}

// CurrentSAP returns the node's current view of its section authority.
func (nk *NetworkKnowledge) CurrentSAP() sap.Signed {
	nk.sapMu.RLock()
	defer nk.sapMu.RUnlock()
	return nk.sap
}

// SectionChain returns the chain from genesis to the current section key.
func (nk *NetworkKnowledge) SectionChain() *chain.Chain {
	nk.chainMu.RLock()
	defer nk.chainMu.RUnlock()
	return nk.sectionChain
}

// GenesisKey returns the network's anchoring genesis key.
func (nk *NetworkKnowledge) GenesisKey() blscrypto.PublicKey {
	return nk.genesisKey
}

// AdoptKeyShare records that the caller now holds an elder's secret key
// share for sectionKey, so a later UpdateIfValid sees it as eligible to
// switch authority even before it becomes a listed elder's prefix match
// (spec.md 4.H step 2: "or check whether we hold a key share for the new
// section key").
func (nk *NetworkKnowledge) AdoptKeyShare(sectionKey blscrypto.PublicKey) {
	nk.shareMu.Lock()
	defer nk.shareMu.Unlock()
	nk.shareKey = sectionKey
}

func (nk *NetworkKnowledge) holdsShareFor(sectionKey blscrypto.PublicKey) bool {
	nk.shareMu.RLock()
	defer nk.shareMu.RUnlock()
	return !nk.shareKey.IsZero() && nk.shareKey.Equal(sectionKey)
}

// UpdateIfValid implements update_knowledge_if_valid (spec.md 4.H):
// validate signedSAP and proofChain against the prefix map, merge the
// proof chain into the all-sections DAG, and switch the current
// authority if the new prefix matches our name and we are either already
// an adult in the new topology or hold a key share for the new section
// key. Any supplied updatedMembers are merged regardless of whether the
// authority switched. Returns true iff any SAP/chain change was
// recorded.
func (nk *NetworkKnowledge) UpdateIfValid(signedSAP sap.Signed, proofChain *chain.Chain, updatedMembers []members.Authed) (bool, error) {
	trusted := nk.SectionChain()

	stored, err := nk.pm.Update(signedSAP, proofChain, trusted)
	if err != nil {
		return false, fmt.Errorf("knowledge: update knowledge: %w", err)
	}

	changed := false
	if stored {
		nk.dagMu.Lock()
		if joinErr := nk.dag.Join(proofChain); joinErr != nil {
			nk.dagMu.Unlock()
			return false, fmt.Errorf("knowledge: merge proof chain into DAG: %w", joinErr)
		}
		nk.dagMu.Unlock()

		changed, err = nk.maybeSwitchAuthority(signedSAP)
		if err != nil {
			return false, err
		}
	}

	for _, m := range updatedMembers {
		if err := nk.Peers.Update(m, nk.SectionChain()); err != nil {
			nk.log.Warn("anti-entropy peer update rejected", "name", m.NodeState.Name, "err", err)
		}
	}

	return changed, nil
}

// maybeSwitchAuthority implements steps 2-4 of spec.md 4.H.
func (nk *NetworkKnowledge) maybeSwitchAuthority(signedSAP sap.Signed) (bool, error) {
	newSAP := signedSAP.SAP
	becomingElder := newSAP.IsElder(nk.selfName)
	weAreAdult := !becomingElder
	haveShare := nk.holdsShareFor(newSAP.SectionKey())
	prefixMatches := newSAP.Prefix.Matches(nk.selfName)

	switch {
	case prefixMatches && (weAreAdult || haveShare):
		nk.dagMu.RLock()
		newChain, err := nk.dag.GetProofChain(nk.genesisKey, newSAP.SectionKey())
		nk.dagMu.RUnlock()
		if err != nil {
			return false, fmt.Errorf("knowledge: derive proof chain for switch: %w", err)
		}

		nk.chainMu.Lock()
		nk.sectionChain = newChain
		nk.chainMu.Unlock()

		nk.sapMu.Lock()
		nk.sap = signedSAP
		nk.sapMu.Unlock()

		nk.Peers.Retain(newSAP.Prefix)
		nk.Peers.PruneMembersArchive(newChain)
		return true, nil

	case becomingElder && !haveShare:
		nk.log.Error("listed as elder in new SAP without holding a key share", "prefix", newSAP.Prefix)
		return false, nil

	default:
		return false, nil
	}
}
