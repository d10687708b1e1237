package storage

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAgentKVGetSetDelete(t *testing.T) {
	db := openTestDB(t)
	kv := NewAgentKV(db, "agent-1", 0)

	if err := kv.Set("greeting", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := kv.Get("greeting")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if err := kv.Delete("greeting"); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get("greeting"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestAgentKVQuotaEnforced(t *testing.T) {
	db := openTestDB(t)
	kv := NewAgentKV(db, "agent-2", 8)

	if err := kv.Set("a", []byte("1234")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("b", []byte("1234")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("c", []byte("1234")); err != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAgentKVNamespaceIsolation(t *testing.T) {
	db := openTestDB(t)
	kv1 := NewAgentKV(db, "agent-a", 0)
	kv2 := NewAgentKV(db, "agent-b", 0)

	_ = kv1.Set("shared-name", []byte("from-a"))
	_ = kv2.Set("shared-name", []byte("from-b"))

	v1, _ := kv1.Get("shared-name")
	v2, _ := kv2.Get("shared-name")
	if string(v1) != "from-a" || string(v2) != "from-b" {
		t.Fatalf("expected isolated namespaces, got %q and %q", v1, v2)
	}
}

func TestAgentKVSnapshotRestore(t *testing.T) {
	db := openTestDB(t)
	src := NewAgentKV(db, "agent-src", 0)
	_ = src.Set("k1", []byte("v1"))
	_ = src.Set("k2", []byte("v2"))

	snap, err := src.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}

	dst := NewAgentKV(db, "agent-dst", 0)
	if err := dst.Restore(snap); err != nil {
		t.Fatal(err)
	}
	v, err := dst.Get("k1")
	if err != nil || string(v) != "v1" {
		t.Fatalf("restore mismatch: %v %q", err, v)
	}
}

func TestModuleCachePutIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	cache := NewModuleCache(db)

	wasmBytes := []byte("\x00asm\x01\x00\x00\x00fake-module")
	h1, err := cache.Put(wasmBytes)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := cache.Put(wasmBytes)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical bytes, got %s vs %s", h1, h2)
	}
	got, err := cache.Get(h1)
	if err != nil || string(got) != string(wasmBytes) {
		t.Fatalf("Get mismatch: %v %q", err, got)
	}
}

func TestModuleCachePruneEvictsLeastRecentlyTouched(t *testing.T) {
	db := openTestDB(t)
	cache := NewModuleCache(db)

	moduleA := append([]byte("module-a-"), make([]byte, 100)...)
	moduleB := append([]byte("module-b-"), make([]byte, 100)...)
	h1, _ := cache.Put(moduleA)
	h2, _ := cache.Put(moduleB)
	_ = cache.Touch(h1, 1)
	_ = cache.Touch(h2, 2)

	evicted, err := cache.Prune(150, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0] != h1 {
		t.Fatalf("expected to evict the less recently touched module h1, got %v", evicted)
	}
	if has, _ := cache.Has(h2); !has {
		t.Fatal("expected more recently touched module to survive pruning")
	}
}
