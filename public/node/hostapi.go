package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/storage"
)

// hostAPIAdapter is the "fipa:host" import surface wired into every
// sandboxed wasm instance, grounded on the base design's split between
// wasmhost (host-call budget and deadline) and this adapter (dispatch into
// the router, directory, and migration engine). The adapter applies the
// storage quota through its AgentKV; it does not check NetworkAccess or
// AllowedProtocols. One adapter is constructed per agent by Supervisor's
// HostAPIFor factory.
type hostAPIAdapter struct {
	node      *Node
	agentName string
	kv        *storage.AgentKV

	mu      sync.Mutex
	pending *acl.Message

	timersMu sync.Mutex
	timers   map[string]time.Time
}

func newHostAPIAdapter(n *Node, agentName string) *hostAPIAdapter {
	return &hostAPIAdapter{
		node:      n,
		agentName: agentName,
		// Mirrors the same (db, agent-name) key scheme the Supervisor's
		// own AgentKV uses for this actor, so host-call reads/writes land
		// in the identical namespace the migration engine snapshots —
		// the quota here is the node-wide default rather than this
		// agent's granted capability.Set, which Supervisor.Spawn applies
		// authoritatively when it constructs the actor's own AgentKV.
		kv:     storage.NewAgentKV(n.kvDB, agentName, n.cfg.DefaultCapabilities.StorageQuotaBytes),
		timers: make(map[string]time.Time),
	}
}

// SetPending satisfies the optional interface internal/supervisor looks
// for to wire actor.Config.BeforeHandle, so a guest's receive_message
// host call during handle_message answers with the message the actor is
// currently dispatching.
func (h *hostAPIAdapter) SetPending(msg *acl.Message) {
	h.mu.Lock()
	h.pending = msg
	h.mu.Unlock()
}

func (h *hostAPIAdapter) SendMessage(ctx context.Context, envelope []byte) error {
	msg, err := acl.FromJSON(envelope)
	if err != nil {
		return err
	}
	if msg.Sender == "" {
		msg.Sender = h.agentName
	}
	return h.node.deliverOutbound(ctx, msg)
}

func (h *hostAPIAdapter) ReceiveMessage(ctx context.Context) ([]byte, bool, error) {
	h.mu.Lock()
	msg := h.pending
	h.pending = nil
	h.mu.Unlock()
	if msg == nil {
		return nil, false, nil
	}
	data, err := msg.ToJSON()
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (h *hostAPIAdapter) FindAgentsByService(ctx context.Context, serviceType string) ([]string, error) {
	providers := h.node.consensus.FSM().FindService(serviceType, 0)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.AgentName)
	}
	return names, nil
}

func (h *hostAPIAdapter) RegisterService(ctx context.Context, serviceType string, metadata []byte) error {
	props := map[string]string{}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &props)
	}
	cmd := &directory.Command{
		Kind:        directory.CmdRegisterService,
		AgentName:   h.agentName,
		ServiceName: serviceType,
		ServiceType: serviceType,
		Properties:  props,
		LeaseTTL:    5 * time.Minute,
	}
	return h.node.consensus.Propose(cmd, 5*time.Second)
}

func (h *hostAPIAdapter) DeregisterService(ctx context.Context, serviceType string) error {
	cmd := &directory.Command{Kind: directory.CmdDeregisterService, AgentName: h.agentName, ServiceName: serviceType}
	return h.node.consensus.Propose(cmd, 5*time.Second)
}

func (h *hostAPIAdapter) MigrateTo(ctx context.Context, nodeID string) error {
	_, err := h.node.migrateAgent(ctx, h.agentName, nodeID, false)
	return err
}

func (h *hostAPIAdapter) CloneTo(ctx context.Context, nodeID string) (string, error) {
	return h.node.migrateAgent(ctx, h.agentName, nodeID, true)
}

func (h *hostAPIAdapter) StoreKey(ctx context.Context, key string, value []byte) error {
	return h.kv.Set(key, value)
}

func (h *hostAPIAdapter) LoadKey(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := h.kv.Get(key)
	if err == storage.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (h *hostAPIAdapter) DeleteKey(ctx context.Context, key string) error {
	return h.kv.Delete(key)
}

func (h *hostAPIAdapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return h.kv.ListKeys(prefix, 0)
}

func (h *hostAPIAdapter) Log(ctx context.Context, level string, message string) error {
	logger := h.node.logger.With(zap.String("agent", h.agentName))
	switch level {
	case "error":
		logger.Error(message)
	case "warn":
		logger.Warn(message)
	case "debug":
		logger.Debug(message)
	default:
		logger.Info(message)
	}
	return nil
}

func (h *hostAPIAdapter) CurrentNodeID(ctx context.Context) (string, error) {
	return h.node.cfg.NodeID, nil
}

func (h *hostAPIAdapter) ListNodes(ctx context.Context) ([]string, error) {
	return h.node.consensus.ListServers()
}

func (h *hostAPIAdapter) Now(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

func (h *hostAPIAdapter) MonotonicNow(ctx context.Context) (int64, error) {
	return time.Now().UnixNano(), nil
}

func (h *hostAPIAdapter) ScheduleTimer(ctx context.Context, afterMs int64, timerID string) error {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()
	h.timers[timerID] = time.Now().Add(time.Duration(afterMs) * time.Millisecond)
	return nil
}

func (h *hostAPIAdapter) GetFiredTimers(ctx context.Context) ([]string, error) {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()
	now := time.Now()
	var fired []string
	for id, at := range h.timers {
		if now.After(at) || now.Equal(at) {
			fired = append(fired, id)
			delete(h.timers, id)
		}
	}
	return fired, nil
}

func (h *hostAPIAdapter) CancelTimer(ctx context.Context, timerID string) error {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()
	delete(h.timers, timerID)
	return nil
}
