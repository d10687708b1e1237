package rpc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/wire"
)

// AddressResolver maps a node-id to a dialable "host:port", backed by
// the consensus configuration or a static peer table.
type AddressResolver interface {
	Resolve(nodeID string) (string, bool)
}

// ClientPool lazily dials and caches one *grpc.ClientConn per peer node,
// satisfying internal/router.RemoteSender so the router can dispatch a
// message to any node-id it resolves through the directory.
type ClientPool struct {
	resolver AddressResolver
	selfNode string
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewClientPool(resolver AddressResolver, selfNode string, logger *zap.Logger) *ClientPool {
	return &ClientPool{resolver: resolver, selfNode: selfNode, logger: logger, conns: make(map[string]*grpc.ClientConn)}
}

func (p *ClientPool) connFor(nodeID string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.conns[nodeID]; ok {
		return cc, nil
	}
	addr, ok := p.resolver.Resolve(nodeID)
	if !ok {
		return nil, fmt.Errorf("rpc: no known address for node %q", nodeID)
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	p.conns[nodeID] = cc
	return cc, nil
}

// Invalidate drops a cached connection, used after a send fails so the
// next attempt re-resolves the address (the peer may have moved or the
// connection gone stale).
func (p *ClientPool) Invalidate(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.conns[nodeID]; ok {
		_ = cc.Close()
		delete(p.conns, nodeID)
	}
}

// SendTo implements internal/router.RemoteSender: wrap msg in an
// Envelope and deliver it via SendMessage to the node currently hosting
// the receiver.
func (p *ClientPool) SendTo(ctx context.Context, nodeID string, msg *acl.Message) error {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return err
	}
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	env := &wire.Envelope{Kind: wire.KindACLMessage, SourceNode: p.selfNode, TargetNode: nodeID, Payload: payload}

	resp := new(SendMessageResponse)
	if err := cc.Invoke(ctx, "/"+serviceName+"/SendMessage", &SendMessageRequest{Envelope: env}, resp, CallOpts()...); err != nil {
		p.Invalidate(nodeID)
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("rpc: node %s rejected message: %s", nodeID, resp.Error)
	}
	return nil
}

// FindAgent, MigrateAgent, CloneAgent, GetWasmModule, and HealthCheck are
// thin unary-call wrappers over the same connection pool, used by
// public/node's migration path rather than by the router's hot path. The
// client has no FindService or GetNodeInfo wrapper.

func (p *ClientPool) FindAgent(ctx context.Context, nodeID string, req *FindAgentRequest) (*FindAgentResponse, error) {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	resp := new(FindAgentResponse)
	err = cc.Invoke(ctx, "/"+serviceName+"/FindAgent", req, resp, CallOpts()...)
	return resp, err
}

func (p *ClientPool) MigrateAgent(ctx context.Context, nodeID string, req *MigrateAgentRequest) (*MigrateAgentResponse, error) {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	resp := new(MigrateAgentResponse)
	err = cc.Invoke(ctx, "/"+serviceName+"/MigrateAgent", req, resp, CallOpts()...)
	return resp, err
}

func (p *ClientPool) CloneAgent(ctx context.Context, nodeID string, req *CloneAgentRequest) (*CloneAgentResponse, error) {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	resp := new(CloneAgentResponse)
	err = cc.Invoke(ctx, "/"+serviceName+"/CloneAgent", req, resp, CallOpts()...)
	return resp, err
}

func (p *ClientPool) GetWasmModule(ctx context.Context, nodeID string, req *GetWasmModuleRequest) (*GetWasmModuleResponse, error) {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	resp := new(GetWasmModuleResponse)
	err = cc.Invoke(ctx, "/"+serviceName+"/GetWasmModule", req, resp, CallOpts()...)
	return resp, err
}

func (p *ClientPool) HealthCheck(ctx context.Context, nodeID string) (*HealthCheckResponse, error) {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	resp := new(HealthCheckResponse)
	err = cc.Invoke(ctx, "/"+serviceName+"/HealthCheck", &HealthCheckRequest{}, resp, CallOpts()...)
	return resp, err
}

// SubscribeMessages opens the server-streaming call and forwards each
// envelope to the supplied sink until the context is cancelled or the
// stream ends.
func (p *ClientPool) SubscribeMessages(ctx context.Context, nodeID string, sink func(*wire.Envelope)) error {
	cc, err := p.connFor(nodeID)
	if err != nil {
		return err
	}
	desc := &grpc.StreamDesc{StreamName: "SubscribeMessages", ServerStreams: true}
	stream, err := cc.NewStream(ctx, desc, "/"+serviceName+"/SubscribeMessages", CallOpts()...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&SubscribeMessagesRequest{NodeID: p.selfNode}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		resp := new(SubscribeMessagesResponse)
		if err := stream.RecvMsg(resp); err != nil {
			return err
		}
		sink(resp.Envelope)
	}
}

// Close tears down every cached connection.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cc := range p.conns {
		_ = cc.Close()
		delete(p.conns, id)
	}
}
