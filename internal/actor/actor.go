// Package actor implements the Agent Actor: the owner of one sandboxed
// WASM instance and its Agent Record, driven by a single goroutine per
// agent so the sandboxed instance never observes concurrent calls, per
// the one-caller-at-a-time invariant in the base specification's
// concurrency model. Grounded on the teacher's actor/runner shape in
// public/orchestrator (one goroutine owning one resource, commands and
// events crossing through channels rather than shared memory).
package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/fault"
	"github.com/greenpdx/fipa-wasm/internal/protocol"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/wasmhost"
	"go.uber.org/zap"
)

// State is the Agent Actor lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateSuspended
	StateMigrating
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateMigrating:
		return "migrating"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const defaultMailboxCapacity = 256

// deadlineCheckInterval bounds how late a Deadlinable machine's forced
// transition can fire after its reply-by elapses; short enough that
// scenario 3's 500ms Contract Net deadline resolves promptly.
const deadlineCheckInterval = 25 * time.Millisecond

// Config carries everything needed to construct one Agent Actor,
// assembled by the Supervisor from a SpawnConfig.
type Config struct {
	Name            string
	ModuleHash      string
	Capabilities    capability.Set
	MailboxCapacity int
	KV              *storage.AgentKV
	Runtime         *wasmhost.Runtime
	Instance        *wasmhost.Instance
	Logger          *zap.Logger
	// Outbound is called by the actor's host-call adapter for
	// send-message; it is internal/router's entry point, injected here
	// to avoid a package import cycle between actor and router.
	Outbound func(ctx context.Context, msg *acl.Message) error
	// BeforeHandle, when set, is called with the inbound message just
	// before the "handle_message" export runs, so the wasmhost.HostAPI
	// adapter backing Instance can answer a subsequent receive_message
	// host call without the actor and the adapter sharing a channel.
	BeforeHandle func(msg *acl.Message)
}

// Actor owns one Agent Record and drives its lifecycle from a single
// goroutine. All exported methods are safe to call from other
// goroutines; they communicate with the owning goroutine via channels,
// never by touching actor state directly.
type Actor struct {
	name         string
	moduleHash   string
	caps         capability.Set
	kv           *storage.AgentKV
	runtime      *wasmhost.Runtime
	instance     *wasmhost.Instance
	logger       *zap.Logger
	outbound     func(ctx context.Context, msg *acl.Message) error
	beforeHandle func(msg *acl.Message)

	state      atomic.Int32
	mailbox    chan *acl.Message
	conv       *acl.Table
	machines   map[string]protocol.Machine
	deadlines  map[string]time.Time // conversation-id -> reply-by, for Deadlinable machines
	machinesMu sync.Mutex

	migrationHistory []string

	cmds   chan *command
	done   chan struct{}
	once   sync.Once
}

type command struct {
	kind  commandKind
	reply chan error
	data  interface{}
}

type commandKind int

const (
	cmdSuspend commandKind = iota
	cmdResume
	cmdBeginMigration
	cmdShutdown
	cmdCaptureSnapshot
	cmdRestore
)

// New constructs an Actor in StateInitializing; callers must call Run to
// start its goroutine before it will process anything.
func New(cfg Config) *Actor {
	capacity := cfg.MailboxCapacity
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	a := &Actor{
		name:       cfg.Name,
		moduleHash: cfg.ModuleHash,
		caps:       cfg.Capabilities,
		kv:         cfg.KV,
		runtime:    cfg.Runtime,
		instance:   cfg.Instance,
		logger:     cfg.Logger,
		outbound:   cfg.Outbound,
		beforeHandle: cfg.BeforeHandle,
		mailbox:    make(chan *acl.Message, capacity),
		conv:       acl.NewTable(),
		machines:   make(map[string]protocol.Machine),
		deadlines:  make(map[string]time.Time),
		cmds:       make(chan *command),
		done:       make(chan struct{}),
	}
	a.state.Store(int32(StateInitializing))
	return a
}

func (a *Actor) Name() string { return a.name }

func (a *Actor) State() State { return State(a.state.Load()) }

// MigrationHistory returns a copy of the node-ids this actor has already
// migrated through, oldest first, used by the migration engine to extend
// the chain when it captures the next hop.
func (a *Actor) MigrationHistory() []string {
	return append([]string(nil), a.migrationHistory...)
}

func (a *Actor) setState(s State) {
	a.state.Store(int32(s))
	if a.logger != nil {
		a.logger.Debug("actor state transition", zap.String("agent", a.name), zap.String("state", s.String()))
	}
}

// Deliver appends msg to the mailbox, rejecting with fault.KindMailboxFull
// or fault.KindProtocolNotAllowed per the base specification. It never
// blocks: a full mailbox is a synchronous rejection, not a suspension
// point, so a slow consumer cannot stall the router.
func (a *Actor) Deliver(msg *acl.Message) error {
	if msg.Protocol != "" && !a.caps.AllowsProtocol(msg.Protocol) {
		return fault.New(fault.KindProtocolNotAllowed, fmt.Sprintf("protocol %q not permitted for agent %s", msg.Protocol, a.name))
	}
	select {
	case a.mailbox <- msg:
		return nil
	default:
		return fault.New(fault.KindMailboxFull, fmt.Sprintf("mailbox full for agent %s", a.name))
	}
}

// Run drives the actor's lifecycle loop until Shutdown is called or ctx
// is cancelled. It is the actor's sole goroutine; no other code may call
// into the wasmhost.Instance while Run is executing.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	a.setState(StateActive)
	if err := a.callLifecycle(ctx, "init"); err != nil && a.logger != nil {
		a.logger.Warn("init export failed", zap.String("agent", a.name), zap.Error(err))
	}

	deadlineTicker := time.NewTicker(deadlineCheckInterval)
	defer deadlineTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drainAndTerminate(context.Background())
			return
		case cmd := <-a.cmds:
			if a.handleCommand(ctx, cmd) {
				return
			}
		case msg := <-a.mailbox:
			if a.State() == StateActive {
				a.processMessage(ctx, msg)
			}
		case <-deadlineTicker.C:
			if a.State() == StateActive {
				a.checkDeadlines(ctx)
			}
		}
	}
}

// checkDeadlines forces any conversation whose reply-by has elapsed out
// of its response-collecting state, even though not every participant
// replied in time (the base specification's "on deadline or receipt of
// all responses" Contract Net transition).
func (a *Actor) checkDeadlines(ctx context.Context) {
	now := time.Now().UTC()
	var due []string
	for convID, deadline := range a.deadlines {
		if !now.Before(deadline) {
			due = append(due, convID)
		}
	}
	for _, convID := range due {
		delete(a.deadlines, convID)
		a.machinesMu.Lock()
		machine, ok := a.machines[convID]
		a.machinesMu.Unlock()
		if !ok {
			continue
		}
		deadlinable, ok := machine.(protocol.Deadlinable)
		if !ok {
			continue
		}
		result, err := deadlinable.Deadline()
		if err != nil {
			continue
		}
		a.applyMachineResult(ctx, convID, result)
	}
}

func (a *Actor) handleCommand(ctx context.Context, cmd *command) (stop bool) {
	switch cmd.kind {
	case cmdSuspend:
		a.setState(StateSuspended)
		cmd.reply <- nil
	case cmdResume:
		a.setState(StateActive)
		cmd.reply <- nil
	case cmdBeginMigration:
		a.setState(StateMigrating)
		cmd.reply <- nil
	case cmdCaptureSnapshot:
		snap, err := a.captureSnapshot()
		cmd.data = snap
		cmd.reply <- err
	case cmdRestore:
		snap := cmd.data.(*Snapshot)
		cmd.reply <- a.restoreSnapshot(snap)
	case cmdShutdown:
		a.drainAndTerminate(ctx)
		cmd.reply <- nil
		return true
	}
	return false
}

func (a *Actor) drainAndTerminate(ctx context.Context) {
	a.setState(StateTerminating)
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
drain:
	for {
		select {
		case msg := <-a.mailbox:
			a.processMessage(ctx, msg)
		case <-deadline.C:
			break drain
		default:
			break drain
		}
	}
	if err := a.callLifecycle(ctx, "shutdown"); err != nil && a.logger != nil {
		a.logger.Warn("shutdown export failed", zap.String("agent", a.name), zap.Error(err))
	}
	if a.instance != nil {
		_ = a.instance.Close(ctx)
	}
	a.setState(StateTerminated)
}

func (a *Actor) callLifecycle(ctx context.Context, fn string) error {
	if a.instance == nil {
		return nil
	}
	_, err := a.instance.Call(ctx, fn)
	return err
}

// processMessage runs the four-step pipeline from the base
// specification: look up or create the conversation machine, validate,
// invoke handle-message, advance the machine with any outgoing reply.
func (a *Actor) processMessage(ctx context.Context, msg *acl.Message) {
	convID := msg.ConversationID
	if convID == "" {
		convID = msg.MessageID
	}
	conv := a.conv.GetOrCreate(convID, msg.Protocol, acl.RoleParticipant)
	if conv.Seen(msg.MessageID) {
		return // at-most-once: duplicate message-id within this conversation
	}
	if !conv.ValidateInReplyTo(msg) {
		a.replyNotUnderstood(ctx, msg)
		return
	}

	machine := a.machineFor(convID, msg.Protocol)
	if machine != nil {
		if err := machine.Validate(msg); err != nil {
			a.replyNotUnderstood(ctx, msg)
			return
		}
	}

	conv.Record(msg.MessageID)
	if msg.Performative == acl.CFP {
		if replyBy := msg.ReplyBy(); !replyBy.IsZero() {
			a.deadlines[convID] = replyBy
		}
	}
	if a.beforeHandle != nil {
		a.beforeHandle(msg)
	}
	if err := a.callLifecycle(ctx, "handle_message"); err != nil {
		if a.logger != nil {
			a.logger.Warn("handle_message failed", zap.String("agent", a.name), zap.Error(err))
		}
		return
	}

	if machine != nil {
		result, err := machine.Process(msg)
		if err != nil {
			return
		}
		a.applyMachineResult(ctx, convID, result)
	}
}

// applyMachineResult carries out the common tail shared by a normal
// message-driven Process and a forced Deadline transition: cleaning up a
// terminal conversation's machine and history, and sending any reply the
// machine produced.
func (a *Actor) applyMachineResult(ctx context.Context, convID string, result protocol.Result) {
	if result.Outcome == protocol.Complete || result.Outcome == protocol.Failed {
		a.machinesMu.Lock()
		delete(a.machines, convID)
		a.machinesMu.Unlock()
		a.conv.Delete(convID)
		delete(a.deadlines, convID)
	}
	if result.Outcome == protocol.Respond && result.Reply != nil && a.outbound != nil {
		_ = a.outbound(ctx, result.Reply)
	}
}

func (a *Actor) machineFor(convID, protoName string) protocol.Machine {
	if protoName == "" {
		return nil
	}
	a.machinesMu.Lock()
	defer a.machinesMu.Unlock()
	if m, ok := a.machines[convID]; ok {
		return m
	}
	m, err := protocol.NewMachine(protocol.Kind(protoName), acl.RoleParticipant, protocol.DefaultConfig(), nil)
	if err != nil {
		return nil
	}
	a.machines[convID] = m
	return m
}

func (a *Actor) replyNotUnderstood(ctx context.Context, msg *acl.Message) {
	if a.outbound == nil {
		return
	}
	reply, err := acl.New(a.name, acl.NotUnderstood, []string{msg.Sender}, nil)
	if err != nil {
		return
	}
	reply.ConversationID = msg.ConversationID
	reply.InReplyTo = msg.MessageID
	_ = a.outbound(ctx, reply)
}

func (a *Actor) sendCommand(kind commandKind, data interface{}) (interface{}, error) {
	reply := make(chan error, 1)
	cmd := &command{kind: kind, reply: reply, data: data}
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return nil, fault.New(fault.KindAgentNotFound, "actor already terminated")
	}
	err := <-reply
	return cmd.data, err
}

func (a *Actor) Suspend() error {
	_, err := a.sendCommand(cmdSuspend, nil)
	return err
}

func (a *Actor) Resume() error {
	_, err := a.sendCommand(cmdResume, nil)
	return err
}

func (a *Actor) BeginMigration() error {
	_, err := a.sendCommand(cmdBeginMigration, nil)
	return err
}

func (a *Actor) Shutdown() error {
	var err error
	a.once.Do(func() {
		_, err = a.sendCommand(cmdShutdown, nil)
	})
	return err
}

// CaptureSnapshot serializes the Agent Record for migration: the actor
// must already be in StateMigrating (BeginMigration called) so that the
// mailbox has stopped accepting new work at a consistent boundary.
func (a *Actor) CaptureSnapshot() (*Snapshot, error) {
	data, err := a.sendCommand(cmdCaptureSnapshot, nil)
	if err != nil {
		return nil, err
	}
	return data.(*Snapshot), nil
}

func (a *Actor) Restore(snap *Snapshot) error {
	_, err := a.sendCommand(cmdRestore, snap)
	return err
}

// Wait blocks until the actor's Run goroutine has returned.
func (a *Actor) Wait() { <-a.done }
