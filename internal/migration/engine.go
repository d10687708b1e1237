package migration

import (
	"context"
	"time"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/fault"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/supervisor"
)

// ConsensusProposer is the narrow surface the migration engine needs
// from internal/consensus: propose a MigrateAgent command and block
// until it commits.
type ConsensusProposer interface {
	Propose(cmd *directory.Command, timeout time.Duration) error
}

// Engine runs the target-side half of a migration: verify, ensure the
// module is cached locally, spawn the restored actor, and only then
// propose the directory update.
type Engine struct {
	trusted    *TrustedKeys
	supervisor *supervisor.Supervisor
	modules    *storage.ModuleCache
	consensus  ConsensusProposer
	nodeID     string
}

func NewEngine(trusted *TrustedKeys, sup *supervisor.Supervisor, modules *storage.ModuleCache, consensus ConsensusProposer, nodeID string) *Engine {
	return &Engine{trusted: trusted, supervisor: sup, modules: modules, consensus: consensus, nodeID: nodeID}
}

// ReceiveConfig carries the per-migration inputs the node-level wiring
// (public/node) already has to hand: the source node (for the directory
// command and for the acknowledgement the engine does not itself send,
// leaving that to the RPC handler), the capabilities to grant the
// restored actor, the module bytes if the target does not already cache
// the package's module hash, and the outbound function wired the same
// way every other actor's is.
type ReceiveConfig struct {
	FromNode     string
	Capabilities capability.Set
	ModuleBytes  []byte // may be nil if e.modules already has the hash cached
	MailboxCap   int
	Outbound     func(ctx context.Context, msg *acl.Message) error
}

// Receive implements the target-side half of §4.6: verify hash and
// signature, ensure the module bytes are cached, spawn the restored
// actor with the declared capabilities, commit the directory update via
// consensus, and only on success leave the new actor running. Any
// failure before the directory commit returns without having mutated
// shared state, so the source — seeing no acknowledgement — resumes the
// agent locally per the base specification's abort semantics. It returns
// the name the restored actor was spawned under (the clone suffix when
// pkg.Clone is set) so the RPC layer can report it back to the caller.
func (e *Engine) Receive(ctx context.Context, pkg *Package, cfg ReceiveConfig) (string, error) {
	if err := e.trusted.Verify(pkg); err != nil {
		return "", err
	}

	hash := pkg.Snapshot.ModuleHash
	if has, _ := e.modules.Has(hash); !has {
		if len(cfg.ModuleBytes) == 0 {
			return "", fault.New(fault.KindModuleInvalid, "module bytes not supplied and hash not cached locally")
		}
		storedHash, err := e.modules.Put(cfg.ModuleBytes)
		if err != nil {
			return "", err
		}
		if storedHash != hash {
			return "", fault.New(fault.KindHashMismatch, "supplied module bytes do not match the package's declared hash")
		}
	}

	moduleBytes, err := e.modules.Get(hash)
	if err != nil {
		return "", err
	}

	spawnedName := pkg.Snapshot.AgentName
	if pkg.Clone {
		spawnedName = spawnedName + "-clone-" + hash[:8]
	}

	a, err := e.supervisor.Spawn(ctx, supervisor.SpawnConfig{
		Name:            spawnedName,
		ModuleHash:      hash,
		ModuleBytes:     moduleBytes,
		Capabilities:    cfg.Capabilities,
		MailboxCapacity: cfg.MailboxCap,
		Outbound:        cfg.Outbound,
	})
	if err != nil {
		return "", err
	}

	if err := a.Restore(&pkg.Snapshot); err != nil {
		_ = e.supervisor.Destroy(spawnedName)
		return "", err
	}

	if e.consensus != nil {
		cmd := &directory.Command{
			Kind:      directory.CmdMigrateAgent,
			AgentName: spawnedName,
			FromNode:  cfg.FromNode,
			ToNode:    e.nodeID,
			NewEpoch:  pkg.NewEpoch,
		}
		if err := e.consensus.Propose(cmd, 5*time.Second); err != nil {
			_ = e.supervisor.Destroy(spawnedName)
			return "", err
		}
	}

	return spawnedName, nil
}
