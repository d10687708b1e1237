// Package router is the single delivery point for every ACL message on
// a node: local delivery through the Supervisor, remote delivery through
// a directory lookup plus an RPC client, and the retry/backoff/cache-
// invalidation policy the base specification requires. Grounded on the
// teacher's internal/broker (service-side dispatch) and internal/client
// (retrying RPC client) pair.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

// LocalDelivery is the Supervisor's narrow surface the router needs:
// deliver to a locally hosted agent by name.
type LocalDelivery interface {
	DeliverLocal(agentName string, msg *acl.Message) error
	HasLocal(agentName string) bool
}

// DirectoryLookup is the consensus-backed directory's narrow read
// surface the router needs.
type DirectoryLookup interface {
	Lookup(agentName string) (directory.AgentEntry, bool)
}

// RemoteSender dispatches a message to a specific node-id over the wire;
// internal/rpc provides the concrete implementation.
type RemoteSender interface {
	SendTo(ctx context.Context, nodeID string, msg *acl.Message) error
}

type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 50 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2, MaxRetries: 4}
}

// Router is the node's single message-delivery entry point, used both
// for outbound sends originating from a local agent's host calls and for
// inbound envelopes arriving over the wire and addressed to a locally
// hosted agent or requiring a further hop.
type Router struct {
	local     LocalDelivery
	dir       DirectoryLookup
	remote    RemoteSender
	backoff   BackoffConfig
	logger    *zap.Logger

	mu          sync.Mutex
	seenPerConv map[string]map[string]struct{} // conversation-id -> seen receiver/message-id pairs, at-most-once per receiver
	staleCache  map[string]struct{}            // agent names whose cached location was just invalidated
}

type Deps struct {
	Local   LocalDelivery
	Dir     DirectoryLookup
	Remote  RemoteSender
	Backoff BackoffConfig
	Logger  *zap.Logger
}

func New(deps Deps) *Router {
	backoff := deps.Backoff
	if backoff.Initial == 0 {
		backoff = DefaultBackoff()
	}
	return &Router{
		local:       deps.Local,
		dir:         deps.Dir,
		remote:      deps.Remote,
		backoff:     backoff,
		logger:      deps.Logger,
		seenPerConv: make(map[string]map[string]struct{}),
		staleCache:  make(map[string]struct{}),
	}
}

// Route delivers msg to every entry in msg.Receivers, per the base
// specification's per-receiver resolution: local hit, directory hit plus
// remote dispatch with retries, or drop with deadline-exceeded.
func (r *Router) Route(ctx context.Context, msg *acl.Message) []error {
	var errs []error
	for _, receiver := range msg.Receivers {
		if err := r.routeOne(ctx, receiver, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *Router) routeOne(ctx context.Context, receiver string, msg *acl.Message) error {
	if msg.ReplyByMs > 0 && time.Now().UnixMilli() > msg.ReplyByMs {
		return fault.New(fault.KindDeadlineExceeded, fmt.Sprintf("reply-by elapsed before send to %s", receiver))
	}
	if r.duplicate(receiver, msg) {
		return nil
	}

	if r.local != nil && r.local.HasLocal(receiver) {
		return r.local.DeliverLocal(receiver, msg)
	}

	entry, ok := r.dir.Lookup(receiver)
	if !ok {
		return fault.New(fault.KindAgentNotFound, receiver)
	}

	return r.sendWithRetry(ctx, entry.NodeID, receiver, msg)
}

func (r *Router) duplicate(receiver string, msg *acl.Message) bool {
	if msg.ConversationID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen, ok := r.seenPerConv[msg.ConversationID]
	if !ok {
		seen = make(map[string]struct{})
		r.seenPerConv[msg.ConversationID] = seen
	}
	key := receiver + "\x00" + msg.MessageID
	if _, dup := seen[key]; dup {
		return true
	}
	seen[key] = struct{}{}
	return false
}

func (r *Router) sendWithRetry(ctx context.Context, nodeID, receiver string, msg *acl.Message) error {
	delay := r.backoff.Initial
	var lastErr error
	for attempt := 0; attempt <= r.backoff.MaxRetries; attempt++ {
		err := r.remote.SendTo(ctx, nodeID, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := fault.KindOf(err)
		if kind == fault.KindAgentNotFound || kind == fault.KindDirectoryStale {
			r.invalidate(receiver)
			if refreshed, ok := r.dir.Lookup(receiver); ok {
				nodeID = refreshed.NodeID
			} else {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.backoff.Multiplier)
		if delay > r.backoff.Max {
			delay = r.backoff.Max
		}
	}
	if r.logger != nil {
		r.logger.Warn("router: delivery exhausted retries", zap.String("receiver", receiver), zap.Error(lastErr))
	}
	return lastErr
}

func (r *Router) invalidate(agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleCache[agentName] = struct{}{}
}

// EvictConversation drops the router's duplicate-detection state for a
// finished conversation, called when the owning actor's protocol machine
// reaches a terminal state.
func (r *Router) EvictConversation(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seenPerConv, conversationID)
}
