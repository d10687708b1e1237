// Package capability implements AgentCapabilities: the declarative limits
// and permissions attached to an agent at spawn time. Capabilities are
// immutable for the lifetime of the agent — internal/actor enforces this
// by never exposing a mutable reference after construction.
package capability

import "time"

// NetworkAccess controls what a sandboxed agent may reach over the
// network host call surface.
type NetworkAccess string

const (
	NetworkNone          NetworkAccess = "none"
	NetworkLocalOnly     NetworkAccess = "local-only"
	NetworkRestrictedSet NetworkAccess = "restricted-list"
	NetworkUnrestricted  NetworkAccess = "unrestricted"
)

// Set declares the resource limits and permissions for one agent,
// established at spawn time from a SpawnConfig and never mutated
// afterward.
type Set struct {
	MaxMemoryBytes       uint64
	MaxCPUTimePerCall     time.Duration
	MaxFuelPerCall        uint64
	AllowedProtocols      map[string]struct{}
	NetworkAccess         NetworkAccess
	StorageQuotaBytes     uint64
	MigrationAllowed      bool
	SpawnAllowed          bool
	AllowedNetworkTargets []string // only consulted when NetworkAccess == NetworkRestrictedSet
}

// Default returns a conservative capability set suitable for untrusted
// agents: no network, 64MiB memory, 100ms CPU per call, migration and
// spawn disabled.
func Default() Set {
	return Set{
		MaxMemoryBytes:    64 << 20,
		MaxCPUTimePerCall: 100 * time.Millisecond,
		MaxFuelPerCall:    10_000_000,
		AllowedProtocols:  map[string]struct{}{},
		NetworkAccess:     NetworkNone,
		StorageQuotaBytes: 1 << 20,
		MigrationAllowed:  false,
		SpawnAllowed:      false,
	}
}

// AllowsProtocol reports whether protocol is in the allowed-protocols
// set. An empty AllowedProtocols set permits every protocol, matching
// the teacher's convention that an unset allow-list means "no
// restriction" elsewhere in the config layer.
func (s Set) AllowsProtocol(protocol string) bool {
	if len(s.AllowedProtocols) == 0 {
		return true
	}
	_, ok := s.AllowedProtocols[protocol]
	return ok
}

// WithProtocols returns a copy of s with AllowedProtocols set to the
// given list, used by SpawnConfig builders.
func (s Set) WithProtocols(protocols ...string) Set {
	allowed := make(map[string]struct{}, len(protocols))
	for _, p := range protocols {
		allowed[p] = struct{}{}
	}
	s.AllowedProtocols = allowed
	return s
}
