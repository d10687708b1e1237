// Package directory implements the replicated Directory and Service
// Registry state machine applied from the Raft log maintained by
// internal/consensus. It satisfies raft.FSM directly: Apply, Snapshot,
// and Restore are the only way its state changes, keeping every node's
// copy of the directory derived solely from the committed log.
package directory

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/greenpdx/fipa-wasm/internal/fault"
)

// CommandKind enumerates the Consensus Log Entry command set.
type CommandKind string

const (
	CmdRegisterAgent     CommandKind = "register-agent"
	CmdDeregisterAgent   CommandKind = "deregister-agent"
	CmdRegisterService   CommandKind = "register-service"
	CmdDeregisterService CommandKind = "deregister-service"
	CmdMigrateAgent      CommandKind = "migrate-agent"
)

// Command is the payload of one raft.Log entry, msgpack-encoded before
// being handed to raft.Apply.
type Command struct {
	Kind CommandKind `msgpack:"kind"`

	AgentName string `msgpack:"agent_name,omitempty"`
	NodeID    string `msgpack:"node_id,omitempty"`

	ServiceName string            `msgpack:"service_name,omitempty"`
	ServiceType string            `msgpack:"service_type,omitempty"`
	Protocols   []string          `msgpack:"protocols,omitempty"`
	Ontologies  []string          `msgpack:"ontologies,omitempty"`
	Properties  map[string]string `msgpack:"properties,omitempty"`
	LeaseTTL    time.Duration     `msgpack:"lease_ttl,omitempty"`

	FromNode string `msgpack:"from_node,omitempty"`
	ToNode   string `msgpack:"to_node,omitempty"`
	NewEpoch uint64 `msgpack:"new_epoch,omitempty"`
}

func (c *Command) Marshal() ([]byte, error) { return msgpack.Marshal(c) }

// AgentEntry is one Directory Entry: agent-name -> (node-id, epoch).
type AgentEntry struct {
	NodeID    string    `msgpack:"node_id"`
	Epoch     uint64    `msgpack:"epoch"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// ServiceProvider is one member of a Service Entry's provider set.
type ServiceProvider struct {
	AgentName  string            `msgpack:"agent_name"`
	ServiceType string           `msgpack:"service_type"`
	Protocols  []string          `msgpack:"protocols"`
	Ontologies []string          `msgpack:"ontologies"`
	Properties map[string]string `msgpack:"properties"`
	ExpiresAt  time.Time         `msgpack:"expires_at"`
}

// FSM is the raft.FSM implementation backing the Directory and Service
// Registry. All mutation happens through Apply, called by hashicorp/raft
// only after a command has committed to a majority of the log — there is
// exactly one writer (the Raft apply loop), matching the base
// specification's single-writer discipline for shared mutable state.
type FSM struct {
	mu       sync.RWMutex
	agents   map[string]AgentEntry
	services map[string]map[string]ServiceProvider // service-name -> agent-name -> provider
	migrated map[string]uint64                     // idempotence: agent-name -> highest applied epoch
}

func NewFSM() *FSM {
	return &FSM{
		agents:   make(map[string]AgentEntry),
		services: make(map[string]map[string]ServiceProvider),
		migrated: make(map[string]uint64),
	}
}

// Apply is invoked by hashicorp/raft once per committed log entry, in
// log order, on every node (leader and followers alike).
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := msgpack.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("directory: decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Kind {
	case CmdRegisterAgent:
		f.agents[cmd.AgentName] = AgentEntry{NodeID: cmd.NodeID, Epoch: 1, UpdatedAt: time.Now().UTC()}
		return nil
	case CmdDeregisterAgent:
		delete(f.agents, cmd.AgentName)
		return nil
	case CmdRegisterService:
		bucket, ok := f.services[cmd.ServiceName]
		if !ok {
			bucket = make(map[string]ServiceProvider)
			f.services[cmd.ServiceName] = bucket
		}
		expires := time.Time{}
		if cmd.LeaseTTL > 0 {
			expires = time.Now().UTC().Add(cmd.LeaseTTL)
		}
		bucket[cmd.AgentName] = ServiceProvider{
			AgentName: cmd.AgentName, ServiceType: cmd.ServiceType,
			Protocols: cmd.Protocols, Ontologies: cmd.Ontologies,
			Properties: cmd.Properties, ExpiresAt: expires,
		}
		return nil
	case CmdDeregisterService:
		if bucket, ok := f.services[cmd.ServiceName]; ok {
			delete(bucket, cmd.AgentName)
			if len(bucket) == 0 {
				delete(f.services, cmd.ServiceName)
			}
		}
		return nil
	case CmdMigrateAgent:
		return f.applyMigrate(cmd)
	default:
		return fmt.Errorf("directory: unknown command kind %q", cmd.Kind)
	}
}

// applyMigrate enforces the epoch discipline invariant: a MigrateAgent
// with epoch <= the currently applied epoch for that agent is a stale
// command and rejected; re-proposal of an already-applied (name,
// new-epoch) pair is idempotent and returns success without mutating
// state twice.
func (f *FSM) applyMigrate(cmd Command) error {
	current, hasAgent := f.agents[cmd.AgentName]
	highestApplied := f.migrated[cmd.AgentName]

	if cmd.NewEpoch == highestApplied && hasAgent && current.NodeID == cmd.ToNode {
		return nil // idempotent re-proposal
	}
	if hasAgent && cmd.NewEpoch <= current.Epoch {
		return fault.New(fault.KindMigrationStale, fmt.Sprintf("epoch %d <= current %d for agent %s", cmd.NewEpoch, current.Epoch, cmd.AgentName))
	}

	f.agents[cmd.AgentName] = AgentEntry{NodeID: cmd.ToNode, Epoch: cmd.NewEpoch, UpdatedAt: time.Now().UTC()}
	f.migrated[cmd.AgentName] = cmd.NewEpoch
	return nil
}

// EvictExpiredServices removes service registrations whose lease has
// passed. It is not itself a consensus command — each node runs this
// locally against its own applied state, so leader and followers may
// prune at slightly different wall-clock moments; that divergence is
// bounded by the lease TTL and acceptable per the base specification's
// crash-stop (not Byzantine) failure model for the registry.
func (f *FSM) EvictExpiredServices(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	evicted := 0
	for serviceName, bucket := range f.services {
		for agentName, provider := range bucket {
			if !provider.ExpiresAt.IsZero() && now.After(provider.ExpiresAt) {
				delete(bucket, agentName)
				evicted++
			}
		}
		if len(bucket) == 0 {
			delete(f.services, serviceName)
		}
	}
	return evicted
}

func (f *FSM) Lookup(agentName string) (AgentEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.agents[agentName]
	return e, ok
}

func (f *FSM) FindService(serviceName string, maxResults int) []ServiceProvider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bucket := f.services[serviceName]
	out := make([]ServiceProvider, 0, len(bucket))
	for _, p := range bucket {
		out = append(out, p)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out
}

func (f *FSM) AllAgents() map[string]AgentEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]AgentEntry, len(f.agents))
	for k, v := range f.agents {
		out[k] = v
	}
	return out
}

type fsmSnapshotState struct {
	Agents   map[string]AgentEntry            `json:"agents"`
	Services map[string]map[string]ServiceProvider `json:"services"`
	Migrated map[string]uint64                `json:"migrated"`
}

type fsmSnapshot struct {
	state fsmSnapshotState
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	state := fsmSnapshotState{
		Agents:   make(map[string]AgentEntry, len(f.agents)),
		Services: make(map[string]map[string]ServiceProvider, len(f.services)),
		Migrated: make(map[string]uint64, len(f.migrated)),
	}
	for k, v := range f.agents {
		state.Agents[k] = v
	}
	for svc, bucket := range f.services {
		copied := make(map[string]ServiceProvider, len(bucket))
		for k, v := range bucket {
			copied[k] = v
		}
		state.Services[svc] = copied
	}
	for k, v := range f.migrated {
		state.Migrated[k] = v
	}
	return &fsmSnapshot{state: state}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// Restore replaces the FSM's entire state from a snapshot, called by
// hashicorp/raft when a node is catching up and must adopt the leader's
// snapshot atomically rather than replaying its full log history.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	var state fsmSnapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = state.Agents
	if f.agents == nil {
		f.agents = make(map[string]AgentEntry)
	}
	f.services = state.Services
	if f.services == nil {
		f.services = make(map[string]map[string]ServiceProvider)
	}
	f.migrated = state.Migrated
	if f.migrated == nil {
		f.migrated = make(map[string]uint64)
	}
	return nil
}
