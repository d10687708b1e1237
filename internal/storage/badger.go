// Package storage wraps a badger.DB for the two persistent stores this
// node keeps outside of the Raft log: the per-agent quota-bounded KV
// namespace (internal/storage's AgentKV) and the write-once WASM module
// cache (internal/storage's ModuleCache). Both are grounded on the
// teacher's badger-backed storage package, trimmed to the operations
// this domain actually needs.
package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Config mirrors the subset of badger.Options this node exposes as
// tunables; everything else uses badger's defaults.
type Config struct {
	Dir                string
	SyncWrites         bool
	ValueLogFileSize   int64
	BlockCacheSize     int64
	NumGoroutines      int
	NumMemtables       int
	NumLevelZeroTables int
	Compression        options.CompressionType
}

func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:                dir,
		SyncWrites:         false,
		ValueLogFileSize:   1 << 28,
		BlockCacheSize:     64 << 20,
		NumGoroutines:      4,
		NumMemtables:       3,
		NumLevelZeroTables: 3,
		Compression:        options.Snappy,
	}
}

// DB is a thin wrapper over *badger.DB giving Get/Set/Delete/Scan/
// BatchSet and a managed Close, shared by AgentKV and ModuleCache which
// each own a distinct key prefix within it.
type DB struct {
	db     *badger.DB
	dir    string
	mu     sync.RWMutex
	closed bool
}

func Open(cfg *Config) (*DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage: config cannot be nil")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.BlockCacheSize = cfg.BlockCacheSize
	opts.NumGoroutines = cfg.NumGoroutines
	opts.NumMemtables = cfg.NumMemtables
	opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	opts.Compression = cfg.Compression
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}
	return &DB{db: db, dir: cfg.Dir}, nil
}

func (d *DB) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func (d *DB) Get(key []byte) ([]byte, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (d *DB) Set(key, value []byte) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (d *DB) SetWithTTL(key, value []byte, ttl time.Duration) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl))
	})
}

// SetIfAbsent implements the write-once semantics the module cache
// needs: it fails with ErrAlreadyExists if key is already present,
// inside the same transaction that performs the write, so two
// concurrent writers of the same content hash cannot race.
func (d *DB) SetIfAbsent(key, value []byte) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, value)
	})
}

func (d *DB) Delete(key []byte) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (d *DB) Exists(key []byte) (bool, error) {
	if d.isClosed() {
		return false, ErrClosed
	}
	var exists bool
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (d *DB) Scan(prefix []byte, limit int) (map[string][]byte, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	result := make(map[string][]byte)
	count := 0
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && (limit <= 0 || count < limit); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.KeyCopy(nil))] = value
			count++
		}
		return nil
	})
	return result, err
}

// SumSizes scans prefix and returns the total byte length of all values
// stored under it, used by AgentKV to enforce per-agent storage quotas
// without keeping a separate running counter that could drift.
func (d *DB) SumSizes(prefix []byte) (uint64, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	var total uint64
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total += uint64(it.Item().ValueSize())
		}
		return nil
	})
	return total, err
}

func (d *DB) DeletePrefix(prefix []byte) error {
	if d.isClosed() {
		return ErrClosed
	}
	return d.db.DropPrefix(prefix)
}

func (d *DB) RunValueLogGC(discardRatio float64) error {
	if d.isClosed() {
		return ErrClosed
	}
	for {
		if err := d.db.RunValueLogGC(discardRatio); err != nil {
			if err == badger.ErrNoRewrite {
				return nil
			}
			return err
		}
	}
}
