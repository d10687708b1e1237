package vfs

import "testing"

func TestValidatePathRejectsTraversal(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Path("..", "etc", "passwd"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	v, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Write([]byte("hello"), "sub", "file.txt"); err != nil {
		t.Fatal(err)
	}
	got, err := v.Read("sub", "file.txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestNodeLayoutCreatesExpectedDirs(t *testing.T) {
	layout, err := NewNodeLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if layout.HasIdentityKey() {
		t.Fatal("fresh layout should have no identity key yet")
	}
	if err := layout.WriteIdentityKey([]byte("secret")); err != nil {
		t.Fatal(err)
	}
	if !layout.HasIdentityKey() {
		t.Fatal("expected identity key to exist after write")
	}
	key, err := layout.ReadIdentityKey()
	if err != nil || string(key) != "secret" {
		t.Fatalf("got %q, err %v", key, err)
	}
}

func TestMigrationStagingCleanup(t *testing.T) {
	layout, err := NewNodeLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path := layout.MigrationStagingPath("mig-1")
	if path == "" {
		t.Fatal("expected non-empty staging path")
	}
	if err := layout.CleanupMigrationStaging("mig-1"); err != nil {
		t.Fatal(err)
	}
}
