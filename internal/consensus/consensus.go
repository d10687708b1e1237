// Package consensus wires hashicorp/raft to internal/directory's FSM:
// BoltDB-backed log and stable stores via raft-boltdb, file-based
// snapshotting, and TCP transport. It is the only component permitted to
// call FSM.Apply indirectly (through raft.Raft.Apply), preserving the
// single-writer discipline the base specification requires of the
// directory's shared mutable state.
package consensus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

// Config configures one node's participation in the Raft cluster.
type Config struct {
	NodeID       string
	BindAddr     string
	DataDir      string
	Bootstrap    bool
	SnapshotKeep int
}

// Node wraps *raft.Raft and the FSM it drives, exposing only the
// operations internal/directory's callers (internal/router,
// internal/migration, public/node) actually need: Propose, and read
// access to the underlying FSM for lookups.
type Node struct {
	raft      *raft.Raft
	fsm       *directory.FSM
	transport *raft.NetworkTransport
	logStore  raft.LogStore
	stableStore raft.StableStore
}

func Open(cfg Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("consensus: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("consensus: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("consensus: create transport: %w", err)
	}

	snapshotKeep := cfg.SnapshotKeep
	if snapshotKeep <= 0 {
		snapshotKeep = 3
	}
	snapshots, err := raft.NewFileSnapshotStore(filepath.Join(cfg.DataDir, "snapshots"), snapshotKeep, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("consensus: create snapshot store: %w", err)
	}

	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("consensus: create bolt store: %w", err)
	}

	fsm := directory.NewFSM()
	r, err := raft.NewRaft(raftCfg, fsm, boltStore, boltStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("consensus: create raft node: %w", err)
	}

	node := &Node{raft: r, fsm: fsm, transport: transport, logStore: boltStore, stableStore: boltStore}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		}
		f := r.BootstrapCluster(configuration)
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("consensus: bootstrap cluster: %w", err)
		}
	}

	return node, nil
}

func (n *Node) FSM() *directory.FSM { return n.fsm }

func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// Propose submits cmd to the log and blocks until it is either applied
// (committed by a strict majority, per the base specification's
// write-commit-then-acknowledge requirement) or times out.
func (n *Node) Propose(cmd *directory.Command, timeout time.Duration) error {
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return fault.New(fault.KindConsensusUnavailable, err.Error())
		}
		return err
	}
	if applyErr, ok := future.Response().(error); ok && applyErr != nil {
		return applyErr
	}
	return nil
}

// AddVoter proposes a configuration change adding a new voting member.
// Nothing in the node calls it automatically; an operator uses it on the
// leader to add a node to an existing cluster.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout)
	return future.Error()
}

func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	future := n.raft.RemoveServer(raft.ServerID(id), 0, timeout)
	return future.Error()
}

// ListServers returns the node-ids of every member of the current raft
// configuration, used to answer the host-call surface's list_nodes
// import.
func (n *Node) ListServers() ([]string, error) {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	servers := future.Configuration().Servers
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, string(s.ID))
	}
	return ids, nil
}

// AppliedIndex reports the last log index applied to the FSM, wired to
// the fipa_raft_applied_index metric.
func (n *Node) AppliedIndex() uint64 {
	return n.raft.AppliedIndex()
}

func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return err
	}
	return n.transport.Close()
}
