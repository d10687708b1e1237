// Package vfs scopes all of a node's on-disk state to one root directory
// and rejects any path that would escape it, adapted from the teacher's
// general-purpose rooted filesystem helper for this node's specific
// layout: node identity, Raft log/snapshot storage, Badger data
// directories, and migration staging.
package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VFS is a filesystem view rooted at a directory; every operation
// rejects paths that would resolve outside of it.
type VFS struct {
	root     string
	readonly bool
}

func New(root string, readonly bool) (*VFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vfs: invalid root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("vfs: create root: %w", err)
	}
	return &VFS{root: abs, readonly: readonly}, nil
}

func (v *VFS) Root() string { return v.root }

func (v *VFS) validatePath(parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("vfs: path traversal not allowed: %s", rel)
	}
	abs := filepath.Clean(filepath.Join(v.root, rel))
	if !strings.HasPrefix(abs, v.root) {
		return "", fmt.Errorf("vfs: path outside root: %s", rel)
	}
	return abs, nil
}

func (v *VFS) Path(parts ...string) (string, error) { return v.validatePath(parts...) }

func (v *VFS) Read(parts ...string) ([]byte, error) {
	path, err := v.validatePath(parts...)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (v *VFS) Write(content []byte, parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs: read-only")
	}
	path, err := v.validatePath(parts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vfs: create directory: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (v *VFS) Delete(parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs: read-only")
	}
	path, err := v.validatePath(parts...)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (v *VFS) Exists(parts ...string) bool {
	path, err := v.validatePath(parts...)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (v *VFS) Mkdir(parts ...string) error {
	if v.readonly {
		return fmt.Errorf("vfs: read-only")
	}
	path, err := v.validatePath(parts...)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (v *VFS) List(parts ...string) ([]os.DirEntry, error) {
	path, err := v.validatePath(parts...)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(path)
}

// NodeLayout resolves the fixed set of subdirectories and files this
// node keeps under one data directory, each guaranteed created and path-
// validated through the owning VFS.
type NodeLayout struct {
	vfs *VFS
}

func NewNodeLayout(dataDir string) (*NodeLayout, error) {
	v, err := New(dataDir, false)
	if err != nil {
		return nil, err
	}
	layout := &NodeLayout{vfs: v}
	for _, dir := range [][]string{
		{"identity"},
		{"raft", "log"},
		{"raft", "snapshots"},
		{"badger", "kv"},
		{"badger", "modules"},
		{"migration", "staging"},
	} {
		if err := v.Mkdir(dir...); err != nil {
			return nil, err
		}
	}
	return layout, nil
}

func (n *NodeLayout) IdentityKeyPath() string {
	p, _ := n.vfs.Path("identity", "node.key")
	return p
}

func (n *NodeLayout) RaftLogDir() string {
	p, _ := n.vfs.Path("raft", "log")
	return p
}

func (n *NodeLayout) RaftSnapshotDir() string {
	p, _ := n.vfs.Path("raft", "snapshots")
	return p
}

func (n *NodeLayout) KVDataDir() string {
	p, _ := n.vfs.Path("badger", "kv")
	return p
}

func (n *NodeLayout) ModuleCacheDataDir() string {
	p, _ := n.vfs.Path("badger", "modules")
	return p
}

// MigrationStagingPath returns the scratch path for an in-flight
// migration package keyed by its id, removed once the transfer completes
// or is aborted.
func (n *NodeLayout) MigrationStagingPath(migrationID string) string {
	p, _ := n.vfs.Path("migration", "staging", migrationID+".pkg")
	return p
}

func (n *NodeLayout) CleanupMigrationStaging(migrationID string) error {
	return n.vfs.Delete("migration", "staging", migrationID+".pkg")
}

func (n *NodeLayout) HasIdentityKey() bool {
	return n.vfs.Exists("identity", "node.key")
}

func (n *NodeLayout) ReadIdentityKey() ([]byte, error) {
	return n.vfs.Read("identity", "node.key")
}

func (n *NodeLayout) WriteIdentityKey(key []byte) error {
	return n.vfs.Write(key, "identity", "node.key")
}
