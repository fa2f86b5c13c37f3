// Package chain implements the tamper-evident section key chain and the
// DAG that merges every chain a node has ever observed (spec.md 4.B).
//
// A Chain is modeled as a forest rooted at a single genesis key: every key
// beyond the root has exactly one parent edge, but a parent may have
// multiple children (a fork, e.g. after a section split). "The chain" a
// node actively follows and "the all-sections DAG" it accumulates from
// anti-entropy are the same type at different scope -- a node's own
// section chain is simply the main branch of its local DAG.
package chain

import (
	"errors"
	"fmt"

	"github.com/xornet/xornet/blscrypto"
)

// Sentinel errors, matching spec.md's cryptographic error taxonomy.
var (
	ErrUntrustedProofChain = errors.New("chain: untrusted proof chain")
	ErrKeyNotFound         = errors.New("chain: key not found")
	ErrInvalidGenesisKey   = errors.New("chain: genesis key mismatch")
	ErrCycle               = errors.New("chain: would introduce a cycle")
)

// Entry is one edge in the chain: a signature by parent over child's
// bytes, attesting that child is the legitimate successor key.
type Entry struct {
	Parent blscrypto.PublicKey
	Child  blscrypto.PublicKey
	Sig    blscrypto.Signature
}

// Chain is a tamper-evident forest of BLS public keys rooted at a single
// genesis key.
type Chain struct {
	root     blscrypto.PublicKey
	edges    map[string]Entry // child key bytes (hex) -> edge into it
	mainPath []blscrypto.PublicKey
}

// New creates a chain with only a root key and no edges yet.
func New(root blscrypto.PublicKey) *Chain {
	return &Chain{
		root:     root,
		edges:    make(map[string]Entry),
		mainPath: []blscrypto.PublicKey{root},
	}
}

// RootKey returns the chain's genesis key.
func (c *Chain) RootKey() blscrypto.PublicKey {
	return c.root
}

// LastKey returns the tip of the chain's main branch.
func (c *Chain) LastKey() blscrypto.PublicKey {
	return c.mainPath[len(c.mainPath)-1]
}

// MainBranchLen returns the number of keys in the main branch, including
// the root.
func (c *Chain) MainBranchLen() int {
	return len(c.mainPath)
}

// HasKey reports whether k is present anywhere in the chain (root or any
// branch).
func (c *Chain) HasKey(k blscrypto.PublicKey) bool {
	if k.Equal(c.root) {
		return true
	}
	_, ok := c.edges[k.String()]
	return ok
}

// parentOf returns the parent key of k and whether k has one (false for
// the root or an unknown key).
func (c *Chain) parentOf(k blscrypto.PublicKey) (blscrypto.PublicKey, bool) {
	if e, ok := c.edges[k.String()]; ok {
		return e.Parent, true
	}
	return blscrypto.PublicKey{}, false
}

// legalEdge reports whether an edge verifies: parent.verify(sig,
// child_bytes) (spec.md 4.B).
func legalEdge(e Entry) bool {
	return blscrypto.Verify(e.Parent, e.Child.Bytes(), e.Sig) == nil
}

// Extend adds a verified edge from parent to child anywhere in the
// forest; parent must already be present. It does not move the main
// branch tip -- use ExtendMain for that.
func (c *Chain) Extend(parent, child blscrypto.PublicKey, sig blscrypto.Signature) error {
	if !c.HasKey(parent) {
		return fmt.Errorf("chain: %w: parent not present", ErrKeyNotFound)
	}
	if c.HasKey(child) {
		return fmt.Errorf("chain: %w: child key already present", ErrCycle)
	}
	e := Entry{Parent: parent, Child: child, Sig: sig}
	if !legalEdge(e) {
		return fmt.Errorf("chain: %w: edge signature invalid", ErrUntrustedProofChain)
	}
	c.edges[child.String()] = e
	return nil
}

// ExtendMain extends the chain's main branch: parent must be the current
// tip.
func (c *Chain) ExtendMain(parent, child blscrypto.PublicKey, sig blscrypto.Signature) error {
	if !parent.Equal(c.LastKey()) {
		return fmt.Errorf("chain: parent %s is not the current tip %s", parent, c.LastKey())
	}
	if err := c.Extend(parent, child, sig); err != nil {
		return err
	}
	c.mainPath = append(c.mainPath, child)
	return nil
}

// SelfVerify walks every edge in the chain and fails with
// ErrUntrustedProofChain on the first unverifiable edge (spec.md 4.B).
func (c *Chain) SelfVerify() error {
	for _, e := range c.edges {
		if !c.HasKey(e.Parent) {
			return fmt.Errorf("chain: %w: edge parent unreachable from root", ErrUntrustedProofChain)
		}
		if !legalEdge(e) {
			return fmt.Errorf("chain: %w: edge %s -> %s", ErrUntrustedProofChain, e.Parent, e.Child)
		}
	}
	return nil
}

// GetProofChain returns the minimal sub-chain proving that to descends
// from from: the unique path of edges from `from` down to `to`. Fails with
// ErrKeyNotFound if to is not a descendant of from.
func (c *Chain) GetProofChain(from, to blscrypto.PublicKey) (*Chain, error) {
	if from.Equal(to) {
		return New(from), nil
	}
	if !c.HasKey(to) {
		return nil, fmt.Errorf("chain: %w: %s", ErrKeyNotFound, to)
	}

	var path []Entry
	cur := to
	for {
		parent, ok := c.parentOf(cur)
		if !ok {
			return nil, fmt.Errorf("chain: %w: %s is not a descendant of %s", ErrKeyNotFound, to, from)
		}
		e := c.edges[cur.String()]
		path = append(path, e)
		if parent.Equal(from) {
			break
		}
		cur = parent
	}

	proof := New(from)
	for i := len(path) - 1; i >= 0; i-- {
		e := path[i]
		if err := proof.ExtendMain(e.Parent, e.Child, e.Sig); err != nil {
			return nil, err
		}
	}
	return proof, nil
}

// Join merges other's edges into c, keeping only edges that verify and
// introduce no cycle; edges referencing a parent not yet reachable are
// retried until a fixed point is reached, so the result does not depend on
// other's internal edge ordering. Both chains must share the same genesis
// root.
func (c *Chain) Join(other *Chain) error {
	if !c.root.Equal(other.root) {
		return ErrInvalidGenesisKey
	}

	pending := make(map[string]Entry, len(other.edges))
	for k, e := range other.edges {
		pending[k] = e
	}

	for {
		progressed := false
		for k, e := range pending {
			if c.HasKey(e.Child) {
				delete(pending, k)
				continue
			}
			if !c.HasKey(e.Parent) {
				continue
			}
			if !legalEdge(e) {
				delete(pending, k)
				continue
			}
			c.edges[k] = e
			delete(pending, k)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return nil
}

// Keys returns every key present in the chain, root first, in no
// guaranteed order thereafter.
func (c *Chain) Keys() []blscrypto.PublicKey {
	out := make([]blscrypto.PublicKey, 0, len(c.edges)+1)
	out = append(out, c.root)
	for _, e := range c.edges {
		out = append(out, e.Child)
	}
	return out
}
