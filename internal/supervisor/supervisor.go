// Package supervisor owns the AgentId -> Actor-handle table for one
// node: spawn, destroy, restart-on-failure, and enumeration. Grounded on
// the teacher's orchestrator/embedded.go, which holds the same shape
// (an exclusive table of running handles, a restart/backoff policy, and
// an event channel for the rest of the node to observe lifecycle
// changes) for its agent framework's own worker pool.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/actor"
	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/fault"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/wasmhost"
	"go.uber.org/zap"
)

// RestartKind selects the policy applied when an actor's Run goroutine
// returns unexpectedly (distinct from an operator-requested Destroy).
type RestartKind int

const (
	RestartNone RestartKind = iota
	RestartImmediate
	RestartBackoff
	RestartMaxFailures
)

type RestartStrategy struct {
	Kind           RestartKind
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxFailures    int
	Window         time.Duration
}

// SpawnConfig carries everything the Supervisor needs to construct and
// register a new Agent Actor.
type SpawnConfig struct {
	Name            string
	ModuleHash      string
	ModuleBytes     []byte
	Capabilities    capability.Set
	MailboxCapacity int
	RestartStrategy RestartStrategy
	Outbound        func(ctx context.Context, msg *acl.Message) error
}

// Event reports an actor lifecycle change to interested observers (the
// node's telemetry and the directory deregistration path on terminal
// exit).
type Event struct {
	AgentName string
	State     actor.State
	Err       error
}

type handle struct {
	actor      *actor.Actor
	cfg        SpawnConfig
	cancel     context.CancelFunc
	failures   []time.Time
	backoff    time.Duration
}

// Supervisor owns the actor table. The zero value is not usable; use
// New.
type Supervisor struct {
	mu          sync.RWMutex
	actors      map[string]*handle
	runtime     *wasmhost.Runtime
	kvRoot      *storage.DB
	logger      *zap.Logger
	events      chan Event
	hostAPIFor  func(agentName string) wasmhost.HostAPI
}

type Deps struct {
	Runtime *wasmhost.Runtime
	KVRoot  *storage.DB
	Logger  *zap.Logger
	// HostAPIFor builds the per-agent wasmhost.HostAPI adapter; nil
	// defaults to noopHostAPI, used until public/node wires the real
	// router-backed adapter.
	HostAPIFor func(agentName string) wasmhost.HostAPI
}

func New(deps Deps) *Supervisor {
	hostAPIFor := deps.HostAPIFor
	if hostAPIFor == nil {
		hostAPIFor = func(string) wasmhost.HostAPI { return noopHostAPI{} }
	}
	return &Supervisor{
		actors:     make(map[string]*handle),
		runtime:    deps.Runtime,
		kvRoot:     deps.KVRoot,
		logger:     deps.Logger,
		events:     make(chan Event, 64),
		hostAPIFor: hostAPIFor,
	}
}

// Events returns the channel of lifecycle notifications; the node wires
// this to directory deregistration and telemetry.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		if s.logger != nil {
			s.logger.Warn("dropped supervisor event, channel full", zap.String("agent", ev.AgentName))
		}
	}
}

// Spawn instantiates a sandboxed module and starts its Agent Actor
// goroutine, failing with fault.KindAgentAlreadyExists if the name is
// already registered.
func (s *Supervisor) Spawn(ctx context.Context, cfg SpawnConfig) (*actor.Actor, error) {
	s.mu.Lock()
	if _, exists := s.actors[cfg.Name]; exists {
		s.mu.Unlock()
		return nil, fault.New(fault.KindAgentAlreadyExists, cfg.Name)
	}
	s.mu.Unlock()

	var inst *wasmhost.Instance
	var beforeHandle func(msg *acl.Message)
	if s.runtime != nil && len(cfg.ModuleBytes) > 0 {
		cm, err := s.runtime.Compile(ctx, cfg.ModuleHash, cfg.ModuleBytes)
		if err != nil {
			return nil, err
		}
		hostAPI := s.hostAPIFor(cfg.Name)
		if setter, ok := hostAPI.(interface{ SetPending(*acl.Message) }); ok {
			beforeHandle = setter.SetPending
		}
		inst, err = wasmhost.Instantiate(ctx, s.runtime, cm, cfg.Name, cfg.Capabilities, hostAPI)
		if err != nil {
			return nil, err
		}
	}

	var kv *storage.AgentKV
	if s.kvRoot != nil {
		kv = storage.NewAgentKV(s.kvRoot, cfg.Name, cfg.Capabilities.StorageQuotaBytes)
	}

	a := actor.New(actor.Config{
		Name:            cfg.Name,
		ModuleHash:      cfg.ModuleHash,
		Capabilities:    cfg.Capabilities,
		MailboxCapacity: cfg.MailboxCapacity,
		KV:              kv,
		Runtime:         s.runtime,
		Instance:        inst,
		Logger:          s.logger,
		Outbound:        cfg.Outbound,
		BeforeHandle:    beforeHandle,
	})

	actorCtx, cancel := context.WithCancel(ctx)
	h := &handle{actor: a, cfg: cfg, cancel: cancel, backoff: cfg.RestartStrategy.InitialBackoff}

	s.mu.Lock()
	s.actors[cfg.Name] = h
	s.mu.Unlock()

	go func() {
		a.Run(actorCtx)
		s.onActorExit(ctx, cfg.Name)
	}()

	return a, nil
}

func (s *Supervisor) onActorExit(ctx context.Context, name string) {
	s.mu.RLock()
	h, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.emit(Event{AgentName: name, State: h.actor.State()})

	if h.actor.State() == actor.StateTerminated && h.cfg.RestartStrategy.Kind != RestartNone {
		s.applyRestartPolicy(ctx, h)
		return
	}
	s.mu.Lock()
	delete(s.actors, name)
	s.mu.Unlock()
}

func (s *Supervisor) applyRestartPolicy(ctx context.Context, h *handle) {
	now := time.Now()
	h.failures = append(h.failures, now)

	switch h.cfg.RestartStrategy.Kind {
	case RestartMaxFailures:
		window := h.cfg.RestartStrategy.Window
		cutoff := now.Add(-window)
		kept := h.failures[:0]
		for _, f := range h.failures {
			if f.After(cutoff) {
				kept = append(kept, f)
			}
		}
		h.failures = kept
		if len(h.failures) > h.cfg.RestartStrategy.MaxFailures {
			s.mu.Lock()
			delete(s.actors, h.cfg.Name)
			s.mu.Unlock()
			return
		}
		s.respawn(ctx, h, 0)
	case RestartBackoff:
		delay := h.backoff
		if delay <= 0 {
			delay = h.cfg.RestartStrategy.InitialBackoff
		}
		next := time.Duration(float64(delay) * h.cfg.RestartStrategy.Multiplier)
		if h.cfg.RestartStrategy.MaxBackoff > 0 && next > h.cfg.RestartStrategy.MaxBackoff {
			next = h.cfg.RestartStrategy.MaxBackoff
		}
		h.backoff = next
		s.respawn(ctx, h, delay)
	case RestartImmediate:
		s.respawn(ctx, h, 0)
	}
}

func (s *Supervisor) respawn(ctx context.Context, h *handle, after time.Duration) {
	go func() {
		if after > 0 {
			time.Sleep(after)
		}
		s.mu.Lock()
		delete(s.actors, h.cfg.Name)
		s.mu.Unlock()
		if _, err := s.Spawn(ctx, h.cfg); err != nil && s.logger != nil {
			s.logger.Warn("restart failed", zap.String("agent", h.cfg.Name), zap.Error(err))
		}
	}()
}

func (s *Supervisor) Destroy(name string) error {
	s.mu.Lock()
	h, ok := s.actors[name]
	if ok {
		h.cfg.RestartStrategy.Kind = RestartNone
		delete(s.actors, name)
	}
	s.mu.Unlock()
	if !ok {
		return fault.New(fault.KindAgentNotFound, name)
	}
	return h.actor.Shutdown()
}

func (s *Supervisor) Get(name string) (*actor.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.actors[name]
	if !ok {
		return nil, fault.New(fault.KindAgentNotFound, name)
	}
	return h.actor, nil
}

func (s *Supervisor) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.actors))
	for name := range s.actors {
		names = append(names, name)
	}
	return names
}

// HasLocal and DeliverLocal satisfy internal/router.LocalDelivery
// directly, so the router can be handed the Supervisor itself.
func (s *Supervisor) HasLocal(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actors[name]
	return ok
}

func (s *Supervisor) DeliverLocal(name string, msg *acl.Message) error {
	a, err := s.Get(name)
	if err != nil {
		return err
	}
	return a.Deliver(msg)
}

func (s *Supervisor) ForEach(fn func(name string, a *actor.Actor)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, h := range s.actors {
		fn(name, h.actor)
	}
}

// noopHostAPI satisfies wasmhost.HostAPI for an actor whose host-call
// adapter has not yet been wired by a higher layer (public/node wires
// the real router-backed adapter at startup); every call fails cleanly
// rather than panicking.
type noopHostAPI struct{}

func (noopHostAPI) SendMessage(context.Context, []byte) error { return fmt.Errorf("supervisor: host API not wired") }
func (noopHostAPI) ReceiveMessage(context.Context) ([]byte, bool, error) { return nil, false, nil }
func (noopHostAPI) FindAgentsByService(context.Context, string) ([]string, error) { return nil, nil }
func (noopHostAPI) RegisterService(context.Context, string, []byte) error { return nil }
func (noopHostAPI) DeregisterService(context.Context, string) error { return nil }
func (noopHostAPI) MigrateTo(context.Context, string) error { return fmt.Errorf("supervisor: host API not wired") }
func (noopHostAPI) CloneTo(context.Context, string) (string, error) { return "", fmt.Errorf("supervisor: host API not wired") }
func (noopHostAPI) StoreKey(context.Context, string, []byte) error { return nil }
func (noopHostAPI) LoadKey(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (noopHostAPI) DeleteKey(context.Context, string) error { return nil }
func (noopHostAPI) ListKeys(context.Context, string) ([]string, error) { return nil, nil }
func (noopHostAPI) Log(context.Context, string, string) error { return nil }
func (noopHostAPI) CurrentNodeID(context.Context) (string, error) { return "", nil }
func (noopHostAPI) ListNodes(context.Context) ([]string, error) { return nil, nil }
func (noopHostAPI) Now(context.Context) (int64, error) { return time.Now().UnixMilli(), nil }
func (noopHostAPI) MonotonicNow(context.Context) (int64, error) { return time.Now().UnixNano(), nil }
func (noopHostAPI) ScheduleTimer(context.Context, int64, string) error { return nil }
func (noopHostAPI) GetFiredTimers(context.Context) ([]string, error) { return nil, nil }
func (noopHostAPI) CancelTimer(context.Context, string) error { return nil }
