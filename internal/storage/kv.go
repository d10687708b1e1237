package storage

import (
	"fmt"
)

// AgentKV is a per-agent key-value namespace carved out of a shared *DB
// by prefixing every key with the owning agent's name. Each Agent Actor
// holds exactly one AgentKV, sized by its capability.Set.StorageQuotaBytes
// at spawn time.
type AgentKV struct {
	db         *DB
	agent      string
	quotaBytes uint64
}

func NewAgentKV(db *DB, agentName string, quotaBytes uint64) *AgentKV {
	return &AgentKV{db: db, agent: agentName, quotaBytes: quotaBytes}
}

func (kv *AgentKV) key(userKey string) []byte {
	return []byte(fmt.Sprintf("kv/%s/%s", kv.agent, userKey))
}

func (kv *AgentKV) prefix() []byte {
	return []byte(fmt.Sprintf("kv/%s/", kv.agent))
}

func (kv *AgentKV) Get(key string) ([]byte, error) {
	return kv.db.Get(kv.key(key))
}

// Set enforces the agent's storage quota by comparing the namespace's
// current total size plus the incoming value against quotaBytes before
// writing. This is a check-then-act race under concurrent writers to the
// same agent's KV, acceptable because a single Agent Actor goroutine is
// the only writer to its own namespace (the actor-per-agent invariant
// from the concurrency model).
func (kv *AgentKV) Set(key string, value []byte) error {
	if kv.quotaBytes > 0 {
		existing, err := kv.db.Get(kv.key(key))
		var delta int
		if err == nil {
			delta = len(value) - len(existing)
		} else {
			delta = len(value)
		}
		if delta > 0 {
			used, err := kv.db.SumSizes(kv.prefix())
			if err != nil {
				return err
			}
			if used+uint64(delta) > kv.quotaBytes {
				return ErrQuotaExceeded
			}
		}
	}
	return kv.db.Set(kv.key(key), value)
}

func (kv *AgentKV) Delete(key string) error {
	return kv.db.Delete(kv.key(key))
}

func (kv *AgentKV) Exists(key string) (bool, error) {
	return kv.db.Exists(kv.key(key))
}

func (kv *AgentKV) ListKeys(prefix string, limit int) ([]string, error) {
	scanPrefix := append(kv.prefix(), []byte(prefix)...)
	result, err := kv.db.Scan(scanPrefix, limit)
	if err != nil {
		return nil, err
	}
	ownPrefix := kv.prefix()
	keys := make([]string, 0, len(result))
	for storageKey := range result {
		keys = append(keys, storageKey[len(ownPrefix):])
	}
	return keys, nil
}

// Usage returns the total bytes currently stored in this agent's
// namespace, for quota reporting and migration capture sizing.
func (kv *AgentKV) Usage() (uint64, error) {
	return kv.db.SumSizes(kv.prefix())
}

// Snapshot dumps the entire namespace as user-key -> value, used by the
// migration engine's capture phase.
func (kv *AgentKV) Snapshot() (map[string][]byte, error) {
	result, err := kv.db.Scan(kv.prefix(), -1)
	if err != nil {
		return nil, err
	}
	ownPrefix := kv.prefix()
	out := make(map[string][]byte, len(result))
	for storageKey, value := range result {
		out[storageKey[len(ownPrefix):]] = value
	}
	return out, nil
}

// Restore replaces the namespace contents with snapshot, used by the
// migration engine's restore phase on the destination node. It does not
// remove keys absent from the snapshot if called on a non-empty
// namespace; callers restoring a migrated agent are expected to target a
// freshly provisioned namespace.
func (kv *AgentKV) Restore(snapshot map[string][]byte) error {
	for key, value := range snapshot {
		if err := kv.db.Set(kv.key(key), value); err != nil {
			return err
		}
	}
	return nil
}

// Purge removes every key in this agent's namespace, called when an
// agent terminates or its migration to another node is confirmed
// committed.
func (kv *AgentKV) Purge() error {
	return kv.db.DeletePrefix(kv.prefix())
}
