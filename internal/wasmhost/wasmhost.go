// Package wasmhost sandboxes one WASM component per Agent Actor using
// wazero. wazero has no engine-level fuel metering (unlike wasmtime, which
// the base specification's fuel language is written against), so this
// implementation approximates per-call fuel with a host-call invocation
// counter, reset at the start of every Call and checked in Go before each
// import dispatches (log, now, monotonic_now and current_node_id count
// against it but still run once it is spent), backed by a wall-clock CPU
// deadline via context cancellation for the case where an agent spins
// without ever crossing the host boundary. No memory limit is configured
// on the runtime; capability.Set.MaxMemoryBytes is not applied here.
//
// The import namespace is fixed and narrow: "fipa:host", plus WASI
// Preview 1 for the handful of agents compiled against a libc that
// expects it. This resolves the base specification's Open Question in
// favor of WASI P1 over the Component Model/WASI P2, since P2's
// toolchain and wazero's own P2 support were both judged too immature
// for a sandboxing boundary this implementation must trust.
package wasmhost

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

// HostAPI is implemented by public/node's per-agent adapter and wired
// into the "fipa:host" import module. Every method corresponds to one
// exported WASM import. wasmhost enforces the host-call budget and the
// call deadline, and refuses migrate_to/clone_to when MigrationAllowed is
// false; the adapter applies the storage quota through its AgentKV and
// does not check NetworkAccess or AllowedProtocols.
type HostAPI interface {
	SendMessage(ctx context.Context, envelope []byte) error
	ReceiveMessage(ctx context.Context) ([]byte, bool, error)
	FindAgentsByService(ctx context.Context, serviceType string) ([]string, error)
	RegisterService(ctx context.Context, serviceType string, metadata []byte) error
	DeregisterService(ctx context.Context, serviceType string) error
	MigrateTo(ctx context.Context, nodeID string) error
	CloneTo(ctx context.Context, nodeID string) (string, error)
	StoreKey(ctx context.Context, key string, value []byte) error
	LoadKey(ctx context.Context, key string) ([]byte, bool, error)
	DeleteKey(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Log(ctx context.Context, level string, message string) error
	CurrentNodeID(ctx context.Context) (string, error)
	ListNodes(ctx context.Context) ([]string, error)
	Now(ctx context.Context) (int64, error)
	MonotonicNow(ctx context.Context) (int64, error)
	ScheduleTimer(ctx context.Context, afterMs int64, timerID string) error
	GetFiredTimers(ctx context.Context) ([]string, error)
	CancelTimer(ctx context.Context, timerID string) error
}

// Runtime owns one wazero runtime shared by every Instance on this node,
// and the compiled-module cache keyed by content hash so that two agents
// running the same module bytes share one wazero CompiledModule.
type Runtime struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	compiled map[string]wazero.CompiledModule
}

func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, fmt.Errorf("wasmhost: instantiate wasi: %w", err)
	}
	return &Runtime{runtime: r, compiled: make(map[string]wazero.CompiledModule)}, nil
}

func (rt *Runtime) Close(ctx context.Context) error {
	return rt.runtime.Close(ctx)
}

// Compile caches compiled modules by hash so multiple agents sharing a
// module (the common case after a clone or redeploy) compile it once.
func (rt *Runtime) Compile(ctx context.Context, hash string, wasmBytes []byte) (wazero.CompiledModule, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cm, ok := rt.compiled[hash]; ok {
		return cm, nil
	}
	cm, err := rt.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fault.New(fault.KindModuleInvalid, err.Error())
	}
	rt.compiled[hash] = cm
	return cm, nil
}

// Instance is one sandboxed module instantiation, one per Agent Actor.
// It is not safe for concurrent Call invocations — the owning actor
// drives it from its single goroutine, matching the concurrency model's
// actor-per-agent invariant.
type Instance struct {
	runtime  *Runtime
	module   api.Module
	caps     capability.Set
	fuelUsed atomic.Uint64
}

// Instantiate creates one sandboxed instance of the given compiled
// module, binding the host's import surface to hostAPI. Neither wasmhost
// nor the HostAPI adapter checks caps.NetworkAccess or AllowedProtocols
// on outgoing messages (wasmhost never inspects message content).
func Instantiate(ctx context.Context, rt *Runtime, cm wazero.CompiledModule, agentName string, caps capability.Set, hostAPI HostAPI) (*Instance, error) {
	if err := validateImports(cm); err != nil {
		return nil, err
	}

	inst := &Instance{runtime: rt, caps: caps}

	builder := rt.runtime.NewHostModuleBuilder("fipa:host")
	inst.registerHostFunctions(builder, hostAPI)
	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("wasmhost: build host module: %w", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(agentName).
		WithStartFunctions(). // never auto-run _start; the actor drives entry points explicitly
		WithStdout(nil).
		WithStderr(nil)

	mod, err := rt.runtime.InstantiateModule(ctx, cm, modCfg)
	if err != nil {
		return nil, fault.New(fault.KindModuleInvalid, err.Error())
	}
	inst.module = mod
	return inst, nil
}

// allowedImports is the complete "fipa:host" surface; anything a module
// imports outside WASI P1 and this set fails instantiation, matching the
// invariant that the sandbox's import set is a fixed allow-list.
var allowedImports = []string{
	"send_message", "receive_message", "find_agents_by_service",
	"register_service", "deregister_service", "migrate_to", "clone_to",
	"store_key", "load_key", "delete_key", "list_keys", "log",
	"current_node_id", "list_nodes", "now", "monotonic_now",
	"schedule_timer", "get_fired_timers", "cancel_timer",
}

// writeBytes copies data into mod's memory at ptr, truncated to maxLen,
// and returns the number of bytes actually written. Used by every host
// function that hands guest-owned-buffer-shaped data back across the
// sandbox boundary (the guest is expected to retry with a larger buffer
// if the returned length equals maxLen and it suspects truncation).
func writeBytes(mod api.Module, ptr, maxLen uint32, data []byte) uint32 {
	n := uint32(len(data))
	if n > maxLen {
		n = maxLen
	}
	if n == 0 {
		return 0
	}
	if !mod.Memory().Write(ptr, data[:n]) {
		return 0
	}
	return n
}

func (inst *Instance) registerHostFunctions(builder wazero.HostModuleBuilder, h HostAPI) {
	meter := func(ctx context.Context) error {
		used := inst.fuelUsed.Add(1)
		if inst.caps.MaxFuelPerCall > 0 && used > inst.caps.MaxFuelPerCall {
			return fault.New(fault.KindFuelExhausted, "host call budget exhausted")
		}
		return nil
	}

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, size uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		envelope, ok := mod.Memory().Read(ptr, size)
		if !ok {
			return 1
		}
		if err := h.SendMessage(ctx, envelope); err != nil {
			return 1
		}
		return 0
	}).Export("send_message")

	// receive_message writes the pending inbound message's bytes into the
	// guest's own buffer at ptr (up to maxLen) and returns the number of
	// bytes written; 0 means no message was pending (or it failed to
	// fetch), matching the truncation convention list_keys/list_nodes/
	// find_agents_by_service/get_fired_timers also use below.
	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		data, ok, err := h.ReceiveMessage(ctx)
		if err != nil || !ok {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, data)
	}).Export("receive_message")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, level, message string) {
		_ = meter(ctx)
		_ = h.Log(ctx, level, message)
	}).Export("log")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context) int64 {
		_ = meter(ctx)
		v, _ := h.Now(ctx)
		return v
	}).Export("now")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context) int64 {
		_ = meter(ctx)
		v, _ := h.MonotonicNow(ctx)
		return v
	}).Export("monotonic_now")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, nodeID string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if !inst.caps.MigrationAllowed {
			return 1
		}
		if err := h.MigrateTo(ctx, nodeID); err != nil {
			return 1
		}
		return 0
	}).Export("migrate_to")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, serviceType, metadata string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.RegisterService(ctx, serviceType, []byte(metadata)); err != nil {
			return 1
		}
		return 0
	}).Export("register_service")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, serviceType string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.DeregisterService(ctx, serviceType); err != nil {
			return 1
		}
		return 0
	}).Export("deregister_service")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, key, value string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.StoreKey(ctx, key, []byte(value)); err != nil {
			if fault.KindOf(err) == fault.KindQuotaExceeded {
				return 2
			}
			return 1
		}
		return 0
	}).Export("store_key")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, key string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.DeleteKey(ctx, key); err != nil {
			return 1
		}
		return 0
	}).Export("delete_key")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, timerID string, afterMs int64) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.ScheduleTimer(ctx, afterMs, timerID); err != nil {
			return 1
		}
		return 0
	}).Export("schedule_timer")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, timerID string) uint32 {
		if err := meter(ctx); err != nil {
			return 1
		}
		if err := h.CancelTimer(ctx, timerID); err != nil {
			return 1
		}
		return 0
	}).Export("cancel_timer")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context) string {
		_ = meter(ctx)
		id, _ := h.CurrentNodeID(ctx)
		return id
	}).Export("current_node_id")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, key string, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		v, ok, err := h.LoadKey(ctx, key)
		if err != nil || !ok {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, v)
	}).Export("load_key")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, prefix string, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		keys, err := h.ListKeys(ctx, prefix)
		if err != nil {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, []byte(strings.Join(keys, "\n")))
	}).Export("list_keys")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, serviceType string, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		agents, err := h.FindAgentsByService(ctx, serviceType)
		if err != nil {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, []byte(strings.Join(agents, "\n")))
	}).Export("find_agents_by_service")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nodeID string, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		if !inst.caps.MigrationAllowed {
			return 0
		}
		clonedName, err := h.CloneTo(ctx, nodeID)
		if err != nil {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, []byte(clonedName))
	}).Export("clone_to")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		nodes, err := h.ListNodes(ctx)
		if err != nil {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, []byte(strings.Join(nodes, "\n")))
	}).Export("list_nodes")

	builder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, maxLen uint32) uint32 {
		if err := meter(ctx); err != nil {
			return 0
		}
		fired, err := h.GetFiredTimers(ctx)
		if err != nil {
			return 0
		}
		return writeBytes(mod, ptr, maxLen, []byte(strings.Join(fired, "\n")))
	}).Export("get_fired_timers")
}

// Call invokes an exported WASM function by name with a per-call
// deadline derived from caps.MaxCPUTimePerCall, enforcing the CPU-time
// ceiling independently of the host-call fuel counter (an agent that
// never crosses the host boundary still gets killed).
func (inst *Instance) Call(ctx context.Context, fn string, args ...uint64) ([]uint64, error) {
	deadline := inst.caps.MaxCPUTimePerCall
	if deadline <= 0 {
		deadline = 100 * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Each call starts with a fresh host-call budget.
	inst.fuelUsed.Store(0)

	exported := inst.module.ExportedFunction(fn)
	if exported == nil {
		return nil, fmt.Errorf("wasmhost: module has no exported function %q", fn)
	}
	results, err := exported.Call(callCtx, args...)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fault.New(fault.KindExecutionTimeout, fmt.Sprintf("call to %s exceeded %s", fn, deadline))
		}
		return nil, err
	}
	return results, nil
}

func (inst *Instance) FuelUsed() uint64 {
	return inst.fuelUsed.Load()
}

func (inst *Instance) Memory() api.Memory {
	return inst.module.Memory()
}

func (inst *Instance) Close(ctx context.Context) error {
	return inst.module.Close(ctx)
}

// AllowedImports exposes the fixed import allow-list for validation
// tooling and documentation generation.
func AllowedImports() []string {
	out := make([]string, len(allowedImports))
	copy(out, allowedImports)
	return out
}

var allowedImportSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(allowedImports))
	for _, name := range allowedImports {
		set[name] = struct{}{}
	}
	return set
}()

// validateImports rejects a module up front if it imports anything
// outside "fipa:host"'s allow-list or WASI Preview 1, rather than
// relying on wazero's link-time failure to enforce the same boundary
// incidentally.
func validateImports(cm wazero.CompiledModule) error {
	for _, def := range cm.ImportedFunctions() {
		moduleName, name, ok := def.Import()
		if !ok {
			continue
		}
		switch moduleName {
		case "fipa:host":
			if _, allowed := allowedImportSet[name]; !allowed {
				return fault.New(fault.KindModuleInvalid, fmt.Sprintf("wasmhost: disallowed import fipa:host.%s", name))
			}
		case wasi_snapshot_preview1.ModuleName:
			// WASI P1 is admitted wholesale; wasi_snapshot_preview1.Instantiate
			// already bounds which WASI functions actually exist to link against.
		default:
			return fault.New(fault.KindModuleInvalid, fmt.Sprintf("wasmhost: disallowed import module %q", moduleName))
		}
	}
	return nil
}
