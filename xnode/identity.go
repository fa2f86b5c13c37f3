package xnode

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
)

// LoadOrCreateIdentity reads a persisted Ed25519 private key from path,
// generating and persisting a fresh one if none exists yet. The key
// itself is opaque bytes on disk; xornet leaves deeper key-management
// concerns (encryption at rest, rotation) to an embedding deployment,
// matching spec.md 1's "on-disk key storage" being an external
// collaborator.
func LoadOrCreateIdentity(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("xnode: identity key at %s has wrong size %d", path, len(data))
		}
		return ed25519.PrivateKey(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("xnode: read identity key: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("xnode: generate identity key: %w", err)
	}
	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("xnode: persist identity key: %w", err)
	}
	return priv, nil
}
