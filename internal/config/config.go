// Package config loads a meshnode's startup configuration from a YAML
// file and applies FIPA_-prefixed environment variable overrides,
// following the same load-then-default-then-validate shape as the
// teacher's internal/config.Load, generalized from a pipeline's
// cells/pool/broker sections to a single node's listen/data/raft/
// capability sections.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/greenpdx/fipa-wasm/internal/capability"
)

// Config is a meshnode process's complete startup configuration.
type Config struct {
	NodeID         string   `yaml:"node_id"`
	DataDir        string   `yaml:"data_dir"`
	ListenAddr     string   `yaml:"listen_addr"`
	RaftBindAddr   string   `yaml:"raft_bind_addr"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	RaftBootstrap  bool     `yaml:"raft_bootstrap"`
	LogFormat      string   `yaml:"log_format"` // "json" or "console"
	LogLevel       string   `yaml:"log_level"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	HealthAddr     string   `yaml:"health_addr"`

	// PeerRPCAddrs maps every other node-id in the cluster to its
	// internal/rpc listen address, resolved by public/node's ClientPool
	// AddressResolver when the router needs to dial a remote node. Raft's
	// own transport addresses (RaftBindAddr, BootstrapPeers) are a
	// separate address space from this one.
	PeerRPCAddrs map[string]string `yaml:"peer_rpc_addrs"`

	// TrustedPeerKeys maps every other node-id to the hex-encoded
	// Ed25519 public key public/node.New trusts for inbound migration
	// packages signed by that node. Distributed out of band (operator
	// provisioning), matching internal/migration.TrustedKeys' own
	// contract; a node with no entry for a peer rejects every migration
	// claiming to originate from it.
	TrustedPeerKeys map[string]string `yaml:"trusted_peer_keys"`

	DefaultCapabilities CapabilityConfig `yaml:"default_capabilities"`
}

// CapabilityConfig is the YAML-facing mirror of capability.Set, decoupled
// so the wire/storage layer's struct shape doesn't dictate the config
// file's field names.
type CapabilityConfig struct {
	MaxMemoryMB       uint64   `yaml:"max_memory_mb"`
	MaxCPUTimeMs      int64    `yaml:"max_cpu_time_ms"`
	MaxFuelPerCall    uint64   `yaml:"max_fuel_per_call"`
	StorageQuotaBytes uint64   `yaml:"storage_quota_bytes"`
	NetworkAccess     string   `yaml:"network_access"`
	MigrationAllowed  bool     `yaml:"migration_allowed"`
	SpawnAllowed      bool     `yaml:"spawn_allowed"`
	AllowedProtocols  []string `yaml:"allowed_protocols"`
}

func (c CapabilityConfig) ToCapabilitySet() capability.Set {
	set := capability.Default()
	if c.MaxMemoryMB > 0 {
		set.MaxMemoryBytes = c.MaxMemoryMB << 20
	}
	if c.MaxCPUTimeMs > 0 {
		set.MaxCPUTimePerCall = time.Duration(c.MaxCPUTimeMs) * time.Millisecond
	}
	if c.MaxFuelPerCall > 0 {
		set.MaxFuelPerCall = c.MaxFuelPerCall
	}
	if c.StorageQuotaBytes > 0 {
		set.StorageQuotaBytes = c.StorageQuotaBytes
	}
	if c.NetworkAccess != "" {
		set.NetworkAccess = capability.NetworkAccess(c.NetworkAccess)
	}
	set.MigrationAllowed = c.MigrationAllowed
	set.SpawnAllowed = c.SpawnAllowed
	if len(c.AllowedProtocols) > 0 {
		set = set.WithProtocols(c.AllowedProtocols...)
	}
	return set
}

// Default returns the configuration a meshnode boots with when no
// --config file is given: single-node bootstrap, local listen addresses,
// info-level JSON logging.
func Default() *Config {
	return &Config{
		DataDir:       "./data",
		ListenAddr:    "127.0.0.1:7700",
		RaftBindAddr:  "127.0.0.1:7701",
		RaftBootstrap: true,
		LogFormat:     "json",
		LogLevel:      "info",
		MetricsAddr:   "127.0.0.1:7702",
		HealthAddr:    "127.0.0.1:7703",
		DefaultCapabilities: CapabilityConfig{
			MaxMemoryMB:       64,
			MaxCPUTimeMs:      100,
			MaxFuelPerCall:    10_000_000,
			StorageQuotaBytes: 1 << 20,
			NetworkAccess:     "none",
		},
	}
}

// Load reads filename (if non-empty) over the defaults, then applies
// FIPA_-prefixed environment variable overrides, matching the
// CLI-then-env-then-default precedence cmd/meshnode documents.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envString returns the FIPA_<KEY> environment variable if set, else
// fallback.
func envString(key, fallback string) string {
	if v := os.Getenv("FIPA_" + key); v != "" {
		return v
	}
	return fallback
}

func applyEnvOverrides(cfg *Config) {
	cfg.NodeID = envString("NODE_ID", cfg.NodeID)
	cfg.DataDir = envString("DATA_DIR", cfg.DataDir)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.RaftBindAddr = envString("RAFT_BIND_ADDR", cfg.RaftBindAddr)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)
	cfg.HealthAddr = envString("HEALTH_ADDR", cfg.HealthAddr)

	if v := os.Getenv("FIPA_BOOTSTRAP_PEERS"); v != "" {
		cfg.BootstrapPeers = strings.Split(v, ",")
	}
	if v := os.Getenv("FIPA_RAFT_BOOTSTRAP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RaftBootstrap = b
		}
	}
}

// Validate checks the invariants Load and the CLI both rely on before
// wiring subsystems together.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.RaftBindAddr == "" {
		return fmt.Errorf("config: raft_bind_addr is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}
