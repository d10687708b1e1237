package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/binary"
	"sort"
)

// ModuleCache is the write-once store of compiled WASM module bytes,
// keyed by the SHA-256 hash of their content. Agents reference modules
// by hash rather than by name so that redeploying identical bytes is a
// no-op and migration never needs to transfer module bytes the
// destination node already holds.
type ModuleCache struct {
	db *DB
}

func NewModuleCache(db *DB) *ModuleCache {
	return &ModuleCache{db: db}
}

func moduleKey(hash string) []byte {
	return []byte("module/" + hash)
}

func moduleMetaKey(hash string) []byte {
	return []byte("module-meta/" + hash)
}

// HashModule returns the lowercase hex SHA-256 digest used as the
// module's cache key.
func HashModule(wasmBytes []byte) string {
	sum := sha256.Sum256(wasmBytes)
	return hex.EncodeToString(sum[:])
}

// Put stores wasmBytes under its content hash, returning the hash. A
// second Put of identical bytes is a successful no-op (ErrAlreadyExists
// from the underlying store is swallowed here since both conditions mean
// the module is now cached); a Put under a hash whose stored bytes
// differ can only happen if SHA-256 collided, which Put does not attempt
// to detect.
func (c *ModuleCache) Put(wasmBytes []byte) (string, error) {
	hash := HashModule(wasmBytes)
	if err := c.db.SetIfAbsent(moduleKey(hash), wasmBytes); err != nil && err != ErrAlreadyExists {
		return "", err
	}
	meta := make([]byte, 16)
	binary.BigEndian.PutUint64(meta[:8], uint64(len(wasmBytes)))
	binary.BigEndian.PutUint64(meta[8:], 0) // last-access tick, bumped by Touch
	_ = c.db.Set(moduleMetaKey(hash), meta)
	return hash, nil
}

func (c *ModuleCache) Get(hash string) ([]byte, error) {
	return c.db.Get(moduleKey(hash))
}

func (c *ModuleCache) Has(hash string) (bool, error) {
	return c.db.Exists(moduleKey(hash))
}

// Touch bumps the last-access tick recorded for hash, used by Prune's
// least-recently-touched eviction. tick is supplied by the caller (a
// monotonically increasing counter) rather than a wall-clock read, so
// this package never calls time.Now itself.
func (c *ModuleCache) Touch(hash string, tick uint64) error {
	meta, err := c.db.Get(moduleMetaKey(hash))
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(meta[8:], tick)
	return c.db.Set(moduleMetaKey(hash), meta)
}

type moduleUsage struct {
	hash       string
	size       uint64
	lastAccess uint64
}

// Prune evicts least-recently-touched modules until the cache's total
// size is at or under maxBytes, returning the hashes it removed. It
// never evicts a module referenced by a still-running agent; callers
// pass keepHashes to protect those.
func (c *ModuleCache) Prune(maxBytes uint64, keepHashes map[string]struct{}) ([]string, error) {
	metas, err := c.db.Scan([]byte("module-meta/"), -1)
	if err != nil {
		return nil, err
	}
	usages := make([]moduleUsage, 0, len(metas))
	var total uint64
	for key, meta := range metas {
		if len(meta) < 16 {
			continue
		}
		hash := key[len("module-meta/"):]
		size := binary.BigEndian.Uint64(meta[:8])
		lastAccess := binary.BigEndian.Uint64(meta[8:])
		usages = append(usages, moduleUsage{hash: hash, size: size, lastAccess: lastAccess})
		total += size
	}
	if total <= maxBytes {
		return nil, nil
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].lastAccess < usages[j].lastAccess })

	var evicted []string
	for _, u := range usages {
		if total <= maxBytes {
			break
		}
		if _, keep := keepHashes[u.hash]; keep {
			continue
		}
		if err := c.db.Delete(moduleKey(u.hash)); err != nil {
			return evicted, err
		}
		if err := c.db.Delete(moduleMetaKey(u.hash)); err != nil {
			return evicted, err
		}
		total -= u.size
		evicted = append(evicted, u.hash)
	}
	return evicted, nil
}
