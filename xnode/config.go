// Package xnode wires together the join driver, network knowledge and
// membership consensus into a runnable process: configuration loading,
// service lifecycle, health checks and on-disk cache persistence,
// adapted from the teacher's node/config.go, node/config_loader.go and
// node/lifecycle.go (spec.md 6, EXTERNAL INTERFACES).
package xnode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xornet/xornet/address"
)

// DataDirEnv is the environment variable naming the on-disk root
// directory (spec.md 6: "one environment variable names the on-disk
// root directory").
const DataDirEnv = "XORNET_DATADIR"

// Config holds all configuration for a section-membership node.
type Config struct {
	// DataDir is the root directory for the persisted prefix-map cache
	// and identity key.
	DataDir string

	// ListenHost/ListenPort is the socket this node advertises to the
	// section it joins or forms.
	ListenHost string
	ListenPort uint16

	// FirstNode marks genesis mode: this process forms a brand-new
	// network instead of joining an existing one (spec.md 6: "one flag
	// indicates first-node mode (genesis)").
	FirstNode bool

	// BootstrapContacts seeds the join driver when the prefix-map cache
	// holds no entry for this node's name yet (spec.md 4.G step 1).
	BootstrapContacts []address.Peer

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xornet"
	}
	return filepath.Join(home, ".xornet")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:    defaultDataDir(),
		ListenHost: "0.0.0.0",
		ListenPort: 9000,
		FirstNode:  false,
		LogLevel:   "info",
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.ListenHost == "" {
		return errors.New("config: listen host must not be empty")
	}
	if !c.FirstNode && len(c.BootstrapContacts) == 0 {
		return errors.New("config: bootstrap_contacts required unless first_node is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// dataDirSubdirs lists subdirectories created inside the data directory:
// the persisted prefix-map cache and the node's identity key.
var dataDirSubdirs = []string{
	"cache",
	"keystore",
}

// InitDataDir creates the data directory and its standard subdirectories
// if they do not already exist.
func (c *Config) InitDataDir() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("config: create datadir: %w", err)
	}
	for _, sub := range dataDirSubdirs {
		dir := filepath.Join(c.DataDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create %s: %w", sub, err)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// CachePath returns the path to the persisted prefix-map cache file.
func (c *Config) CachePath() string {
	return c.ResolvePath(filepath.Join("cache", "prefixmap.bin"))
}

// KeyPath returns the path to the node's persisted Ed25519 identity key.
func (c *Config) KeyPath() string {
	return c.ResolvePath(filepath.Join("keystore", "identity.key"))
}

// ListenSocket returns the node's advertised socket.
func (c *Config) ListenSocket() address.Socket {
	return address.Socket{Host: c.ListenHost, Port: c.ListenPort}
}
