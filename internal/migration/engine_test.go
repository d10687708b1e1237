package migration

import (
	"context"
	"testing"
	"time"

	"github.com/greenpdx/fipa-wasm/internal/actor"
	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/fault"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/supervisor"
)

func newTestEngine(t *testing.T) (*Engine, *supervisor.Supervisor, *storage.ModuleCache, *TrustedKeys, *Signer) {
	t.Helper()
	db, err := storage.Open(storage.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	modules := storage.NewModuleCache(db)
	sup := supervisor.New(supervisor.Deps{KVRoot: db})

	signer, _, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	trusted := NewTrustedKeys()
	trusted.Trust("source-node", signer.PublicKey())

	engine := NewEngine(trusted, sup, modules, nil, "target-node")
	return engine, sup, modules, trusted, signer
}

func TestEngineReceiveSpawnsRestoredActor(t *testing.T) {
	engine, sup, modules, _, signer := newTestEngine(t)
	ctx := context.Background()

	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	hash, err := modules.Put(wasmBytes)
	if err != nil {
		t.Fatalf("modules.Put: %v", err)
	}

	a := actor.New(actor.Config{Name: "traveler", ModuleHash: hash, Capabilities: capability.Default()})
	go a.Run(ctx)
	t.Cleanup(func() { _ = a.Shutdown() })
	if err := a.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}
	pkg, err := signer.Capture(a, nil, 1, false, time.Now().UTC())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	name, err := engine.Receive(ctx, pkg, ReceiveConfig{FromNode: "source-node", Capabilities: capability.Default()})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if name != "traveler" {
		t.Fatalf("expected spawned name %q, got %q", "traveler", name)
	}

	if _, err := sup.Get("traveler"); err != nil {
		t.Fatalf("expected the restored actor registered under its own name: %v", err)
	}
}

func TestEngineReceiveClonePicksDistinctName(t *testing.T) {
	engine, sup, modules, _, signer := newTestEngine(t)
	ctx := context.Background()

	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	hash, err := modules.Put(wasmBytes)
	if err != nil {
		t.Fatalf("modules.Put: %v", err)
	}

	a := actor.New(actor.Config{Name: "origin", ModuleHash: hash, Capabilities: capability.Default()})
	go a.Run(ctx)
	t.Cleanup(func() { _ = a.Shutdown() })
	if err := a.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}
	pkg, err := signer.Capture(a, nil, 1, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	name, err := engine.Receive(ctx, pkg, ReceiveConfig{FromNode: "source-node", Capabilities: capability.Default()})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if name == "origin" || name == "" {
		t.Fatalf("expected a distinct clone name, got %q", name)
	}
	if _, err := sup.Get(name); err != nil {
		t.Fatalf("expected the clone registered under %q: %v", name, err)
	}
	if _, err := sup.Get("origin"); fault.KindOf(err) != fault.KindAgentNotFound {
		t.Fatalf("expected no actor spawned under the original name on the target, got %v", err)
	}
}

func TestEngineReceiveRejectsUntrustedPackage(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	untrustedSigner, _, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	a := actor.New(actor.Config{Name: "impostor", Capabilities: capability.Default()})
	go a.Run(ctx)
	t.Cleanup(func() { _ = a.Shutdown() })
	if err := a.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}
	pkg, err := untrustedSigner.Capture(a, nil, 1, false, time.Now().UTC())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	_, err = engine.Receive(ctx, pkg, ReceiveConfig{FromNode: "source-node", Capabilities: capability.Default()})
	if fault.KindOf(err) != fault.KindSignatureInvalid {
		t.Fatalf("expected KindSignatureInvalid, got %v", err)
	}
}

func TestEngineReceiveMissingModuleBytesFails(t *testing.T) {
	engine, _, modules, _, signer := newTestEngine(t)
	ctx := context.Background()

	a := actor.New(actor.Config{Name: "needs-module", ModuleHash: "deadbeef", Capabilities: capability.Default()})
	go a.Run(ctx)
	t.Cleanup(func() { _ = a.Shutdown() })
	if err := a.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}
	pkg, err := signer.Capture(a, nil, 1, false, time.Now().UTC())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if has, _ := modules.Has("deadbeef"); has {
		t.Fatal("test setup: module should not already be cached")
	}

	_, err = engine.Receive(ctx, pkg, ReceiveConfig{FromNode: "source-node", Capabilities: capability.Default()})
	if fault.KindOf(err) != fault.KindModuleInvalid {
		t.Fatalf("expected KindModuleInvalid, got %v", err)
	}
}
