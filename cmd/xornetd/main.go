// Command xornetd runs a single section-membership node: it forms or
// joins a network, persists its prefix-map cache and identity key under
// its data directory, and serves health/lifecycle until signaled to
// stop.
//
// Usage:
//
//	xornetd [flags]
//
// Flags:
//
//	-datadir      Data directory path (default: ~/.xornet, overridable
//	              by the XORNET_DATADIR environment variable)
//	-listen-host  Advertised listen host (default: 0.0.0.0)
//	-listen-port  Advertised listen port (default: 9000)
//	-first-node   Form a brand-new network instead of joining one
//	-log-level    Log level: debug, info, warn, error (default: info)
//	-version      Print version and exit
//
// Joining an existing network requires a transport embedder (RPC
// transport details are out of scope for this core, per spec.md 1); a
// non-first-node run without one reports "cannot join" (exit code 2).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/log"
	"github.com/xornet/xornet/xnode"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. It accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	if env := os.Getenv(xnode.DataDirEnv); env != "" {
		cfg.DataDir = env
	}

	lg := log.New(logLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		lg.Error("invalid configuration", "err", err)
		return 1
	}

	lg.Info("xornetd starting", "version", version, "commit", commit,
		"datadir", cfg.DataDir, "first_node", cfg.FirstNode)

	// The genesis key is only needed to seed an empty prefix-map cache;
	// a first-node run replaces it with a freshly generated one inside
	// FormGenesis, so a zero key is a harmless placeholder here.
	var genesisKey blscrypto.PublicKey
	if !cfg.FirstNode {
		gk, ok := parseGenesisKey()
		if !ok {
			lg.Error("non-first-node runs require a known genesis key (not yet available without a bootstrap transport)")
			return 2
		}
		genesisKey = gk
	}

	node, err := xnode.New(cfg, genesisKey, lg)
	if err != nil {
		lg.Error("failed to initialize node", "err", err)
		return 1
	}

	if cfg.FirstNode {
		result, err := node.FormGenesis()
		if err != nil {
			lg.Error("failed to form genesis section", "err", err)
			return 1
		}
		lg.Info("genesis section formed", "section_key", fmt.Sprintf("%x", result.GenesisKey))
	} else {
		// Out of scope: this core does not embed an RPC transport, so
		// a non-first-node run cannot actually reach a bootstrap
		// contact from the bare CLI (spec.md 1, "RPC transport
		// details" is an external collaborator).
		lg.Error("joining an existing network requires an embedding transport; none is configured")
		return 2
	}

	if errs := node.Lifecycle.StartAll(); len(errs) != 0 {
		for _, err := range errs {
			lg.Error("subsystem failed to start", "err", err)
		}
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("received signal, shutting down", "signal", sig.String())

	if errs := node.Lifecycle.StopAll(); len(errs) != 0 {
		for _, err := range errs {
			lg.Error("subsystem failed to stop cleanly", "err", err)
		}
		return 3
	}

	lg.Info("shutdown complete")
	return 0
}

// logLevel maps the config's log-level string to an slog level,
// defaulting to info for anything unrecognized (Validate already
// rejects unknown levels before this is called in normal operation).
func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseGenesisKey resolves the section genesis key for a joining node.
// Without a transport embedder there is no way to discover it, so this
// always reports failure; an embedder wiring in a real transport would
// instead resolve this from a bootstrap handshake or a trusted constant.
func parseGenesisKey() (blscrypto.PublicKey, bool) {
	return blscrypto.PublicKey{}, false
}

// parseFlags parses CLI arguments into a Config. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (xnode.Config, bool, int) {
	cfg := xnode.DefaultConfig()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")
	bootstrap := fs.String("bootstrap", "", "comma-separated list of name_hex@host:port bootstrap contacts")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("xornetd %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	if *bootstrap != "" {
		for _, entry := range strings.Split(*bootstrap, ",") {
			peer, err := xnode.ParseBootstrapPeer(strings.TrimSpace(entry))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return cfg, true, 2
			}
			cfg.BootstrapContacts = append(cfg.BootstrapContacts, peer)
		}
	}

	return cfg, false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to the
// given Config.
func newFlagSet(cfg *xnode.Config) *flagSet {
	fs := newCustomFlagSet("xornetd")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "advertised listen host")
	fs.Uint16Var(&cfg.ListenPort, "listen-port", cfg.ListenPort, "advertised listen port")
	fs.BoolVar(&cfg.FirstNode, "first-node", cfg.FirstNode, "form a brand-new network instead of joining one")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	return fs
}
