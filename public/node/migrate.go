package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenpdx/fipa-wasm/internal/fault"
	"github.com/greenpdx/fipa-wasm/internal/rpc"
	"github.com/greenpdx/fipa-wasm/internal/wire"
)

// migrateAgent runs the source-side half of §4.6 for a locally hosted
// agent: suspend it into StateMigrating, capture and sign a Package, push
// it to the target node over internal/rpc, and on acceptance destroy the
// local actor (migration) or resume it in place (clone). The target
// node's own migration.Engine runs the verify/spawn/commit half inside
// the MigrateAgent/CloneAgent RPC handler.
func (n *Node) migrateAgent(ctx context.Context, agentName, targetNodeID string, clone bool) (string, error) {
	a, err := n.supervisor.Get(agentName)
	if err != nil {
		return "", err
	}
	if err := a.BeginMigration(); err != nil {
		return "", err
	}

	entry, ok := n.consensus.FSM().Lookup(agentName)
	newEpoch := uint64(1)
	if ok {
		newEpoch = entry.Epoch + 1
	}

	pkg, err := n.signer.Capture(a, a.MigrationHistory(), newEpoch, clone, time.Now().UTC())
	if err != nil {
		_ = a.Resume()
		return "", fmt.Errorf("node: capture migration package: %w", err)
	}
	payload, err := pkg.Marshal()
	if err != nil {
		_ = a.Resume()
		return "", err
	}
	env := &wire.Envelope{
		Kind:       wire.KindAgentMigration,
		SourceNode: n.cfg.NodeID,
		TargetNode: targetNodeID,
		Payload:    payload,
	}

	spawnedName := agentName
	if clone {
		resp, err := n.clients.CloneAgent(ctx, targetNodeID, &rpc.CloneAgentRequest{FromNode: n.cfg.NodeID, Envelope: env})
		if err != nil {
			_ = a.Resume()
			return "", fmt.Errorf("node: send clone package to %s: %w", targetNodeID, err)
		}
		if !resp.Accepted {
			_ = a.Resume()
			return "", fault.New(fault.KindMigrationAborted, resp.Error)
		}
		spawnedName = resp.ClonedAgentName
		_ = a.Resume()
		return spawnedName, nil
	}

	resp, err := n.clients.MigrateAgent(ctx, targetNodeID, &rpc.MigrateAgentRequest{FromNode: n.cfg.NodeID, Envelope: env})
	if err != nil {
		_ = a.Resume()
		return "", fmt.Errorf("node: send migration package to %s: %w", targetNodeID, err)
	}
	if !resp.Accepted {
		_ = a.Resume()
		return "", fault.New(fault.KindMigrationAborted, resp.Error)
	}

	if err := n.supervisor.Destroy(agentName); err != nil {
		n.logger.Warn("destroy source actor after accepted migration failed", zap.String("agent", agentName), zap.Error(err))
	}
	return spawnedName, nil
}
