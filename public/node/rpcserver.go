package node

import (
	"context"
	"fmt"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/migration"
	"github.com/greenpdx/fipa-wasm/internal/rpc"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/wire"
)

// nodeServer implements rpc.NodeServer on top of a *Node's already-wired
// subsystems; internal/rpc knows nothing about the directory, router, or
// migration engine, only about this interface.
type nodeServer struct {
	node *Node
}

func (s *nodeServer) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	msg, err := acl.FromJSON(req.Envelope.Payload)
	if err != nil {
		return &rpc.SendMessageResponse{Accepted: false, Error: err.Error()}, nil
	}
	if errs := s.node.router.Route(ctx, msg); len(errs) > 0 {
		return &rpc.SendMessageResponse{Accepted: false, Error: errs[0].Error()}, nil
	}
	s.node.hub.broadcast(req.Envelope)
	return &rpc.SendMessageResponse{Accepted: true}, nil
}

func (s *nodeServer) FindAgent(ctx context.Context, req *rpc.FindAgentRequest) (*rpc.FindAgentResponse, error) {
	entry, ok := s.node.consensus.FSM().Lookup(req.AgentName)
	if !ok {
		return &rpc.FindAgentResponse{Found: false}, nil
	}
	return &rpc.FindAgentResponse{Found: true, NodeID: entry.NodeID, Epoch: entry.Epoch}, nil
}

func (s *nodeServer) FindService(ctx context.Context, req *rpc.FindServiceRequest) (*rpc.FindServiceResponse, error) {
	providers := s.node.consensus.FSM().FindService(req.ServiceName, 0)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.AgentName)
	}
	return &rpc.FindServiceResponse{AgentNames: names}, nil
}

func (s *nodeServer) MigrateAgent(ctx context.Context, req *rpc.MigrateAgentRequest) (*rpc.MigrateAgentResponse, error) {
	name, err := s.node.receiveMigration(ctx, req.Envelope, req.FromNode)
	if err != nil {
		return &rpc.MigrateAgentResponse{Accepted: false, Error: err.Error()}, nil
	}
	_ = name
	return &rpc.MigrateAgentResponse{Accepted: true}, nil
}

func (s *nodeServer) CloneAgent(ctx context.Context, req *rpc.CloneAgentRequest) (*rpc.CloneAgentResponse, error) {
	name, err := s.node.receiveMigration(ctx, req.Envelope, req.FromNode)
	if err != nil {
		return &rpc.CloneAgentResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &rpc.CloneAgentResponse{Accepted: true, ClonedAgentName: name}, nil
}

func (s *nodeServer) GetWasmModule(ctx context.Context, req *rpc.GetWasmModuleRequest) (*rpc.GetWasmModuleResponse, error) {
	data, err := s.node.modules.Get(req.ModuleHash)
	if err == storage.ErrKeyNotFound {
		return &rpc.GetWasmModuleResponse{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rpc.GetWasmModuleResponse{Found: true, WasmBytes: data}, nil
}

func (s *nodeServer) SubscribeMessages(req *rpc.SubscribeMessagesRequest, stream rpc.NodeService_SubscribeMessagesServer) error {
	ch, cancel := s.node.hub.subscribe()
	defer cancel()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case env := <-ch:
			if err := stream.Send(&rpc.SubscribeMessagesResponse{Envelope: env}); err != nil {
				return err
			}
		}
	}
}

func (s *nodeServer) HealthCheck(ctx context.Context, req *rpc.HealthCheckRequest) (*rpc.HealthCheckResponse, error) {
	return &rpc.HealthCheckResponse{Healthy: true, NodeID: s.node.cfg.NodeID}, nil
}

func (s *nodeServer) GetNodeInfo(ctx context.Context, req *rpc.GetNodeInfoRequest) (*rpc.GetNodeInfoResponse, error) {
	return &rpc.GetNodeInfoResponse{
		NodeID:     s.node.cfg.NodeID,
		IsLeader:   s.node.consensus.IsLeader(),
		LeaderAddr: s.node.consensus.LeaderAddr(),
		AgentCount: int32(len(s.node.supervisor.List())),
	}, nil
}

// receiveMigration fetches the module bytes from the source node when
// they are not already cached locally, then hands the package to the
// migration engine; MigrateAgent and CloneAgent share this path since
// migration.Package.Clone already distinguishes the two at the engine
// level.
func (n *Node) receiveMigration(ctx context.Context, env *wire.Envelope, fromNode string) (string, error) {
	pkg, err := migration.Unmarshal(env.Payload)
	if err != nil {
		return "", err
	}

	cfg := migration.ReceiveConfig{
		FromNode:     fromNode,
		Capabilities: n.cfg.DefaultCapabilities.ToCapabilitySet(),
		Outbound:     n.deliverOutbound,
	}

	if has, _ := n.modules.Has(pkg.Snapshot.ModuleHash); !has {
		modResp, err := n.clients.GetWasmModule(ctx, fromNode, &rpc.GetWasmModuleRequest{ModuleHash: pkg.Snapshot.ModuleHash})
		if err != nil {
			return "", err
		}
		if !modResp.Found {
			return "", fmt.Errorf("node: module %s not found at source node %s", pkg.Snapshot.ModuleHash, fromNode)
		}
		cfg.ModuleBytes = modResp.WasmBytes
	}

	return n.engine.Receive(ctx, pkg, cfg)
}
