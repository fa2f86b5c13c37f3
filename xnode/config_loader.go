package xnode

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/xornet/xornet/address"
)

// LoadConfig parses a TOML-like configuration from raw bytes into a
// Config, starting from DefaultConfig(). The parser handles key = value
// pairs and a single [bootstrap] section listing contact peers, matching
// the teacher's hand-rolled config_loader.go format rather than pulling
// in a TOML library.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	section := ""

	lines := strings.Split(string(data), "\n")
	for lineNum, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '[' {
			end := strings.Index(line, "]")
			if end < 0 {
				return cfg, fmt.Errorf("line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}

		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			return cfg, fmt.Errorf("line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eqIdx])
		val := strings.TrimSpace(line[eqIdx+1:])

		if err := applyConfigValue(&cfg, section, key, val, lineNum+1); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func applyConfigValue(cfg *Config, section, key, val string, lineNum int) error {
	switch section {
	case "":
		return applyTopLevel(cfg, key, val, lineNum)
	case "bootstrap":
		return applyBootstrap(cfg, key, val, lineNum)
	default:
		return fmt.Errorf("line %d: unknown section [%s]", lineNum, section)
	}
}

func applyTopLevel(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "datadir":
		cfg.DataDir = unquote(val)
	case "listen_host":
		cfg.ListenHost = unquote(val)
	case "listen_port":
		n, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return fmt.Errorf("line %d: invalid listen_port: %w", lineNum, err)
		}
		cfg.ListenPort = uint16(n)
	case "first_node":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid first_node: %w", lineNum, err)
		}
		cfg.FirstNode = b
	case "log_level":
		cfg.LogLevel = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in top-level", lineNum, key)
	}
	return nil
}

func applyBootstrap(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "peers":
		peers, err := parsePeerArray(val)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		cfg.BootstrapContacts = peers
	default:
		return fmt.Errorf("line %d: unknown key %q in [bootstrap]", lineNum, key)
	}
	return nil
}

// parsePeerArray parses a TOML-like string array of "name_hex@host:port"
// entries into address.Peer values.
func parsePeerArray(s string) ([]address.Peer, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("expected a [...] array, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	peers := make([]address.Peer, 0, len(parts))
	for _, p := range parts {
		peer, err := parsePeerEntry(unquote(strings.TrimSpace(p)))
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// ParseBootstrapPeer parses a single "name_hex@host:port" bootstrap
// contact entry, exported for callers (such as cmd/xornetd) that take
// bootstrap peers from a flag rather than a config file.
func ParseBootstrapPeer(entry string) (address.Peer, error) {
	return parsePeerEntry(entry)
}

func parsePeerEntry(entry string) (address.Peer, error) {
	at := strings.LastIndex(entry, "@")
	if at < 0 {
		return address.Peer{}, fmt.Errorf("bootstrap peer %q missing '@'", entry)
	}
	nameHex, hostPort := entry[:at], entry[at+1:]
	nameBytes, err := hex.DecodeString(nameHex)
	if err != nil || len(nameBytes) != address.NameLen {
		return address.Peer{}, fmt.Errorf("bootstrap peer %q has invalid name", entry)
	}
	var name address.Name
	copy(name[:], nameBytes)

	colon := strings.LastIndex(hostPort, ":")
	if colon < 0 {
		return address.Peer{}, fmt.Errorf("bootstrap peer %q missing port", entry)
	}
	port, err := strconv.ParseUint(hostPort[colon+1:], 10, 16)
	if err != nil {
		return address.Peer{}, fmt.Errorf("bootstrap peer %q has invalid port: %w", entry, err)
	}
	return address.Peer{Name: name, Socket: address.Socket{Host: hostPort[:colon], Port: uint16(port)}}, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
