package actor

import (
	"errors"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
)

var errRestoreMemoryTooSmall = errors.New("actor: restored instance's linear memory is smaller than the snapshot")

// Snapshot is the Agent Record capture the migration engine signs,
// transfers, and a destination node restores. Conversation state is
// serialized through each protocol.Machine's own SerializeState so the
// snapshot format does not need to know every protocol's internal
// shape.
type Snapshot struct {
	AgentName        string            `msgpack:"agent_name"`
	ModuleHash       string            `msgpack:"module_hash"`
	LinearMemory     []byte            `msgpack:"linear_memory"`
	Globals          []uint64          `msgpack:"globals"`
	Conversations    map[string][]byte `msgpack:"conversations"` // conversation-id -> protocol.Machine.SerializeState()
	ConversationKind map[string]string `msgpack:"conversation_kind"`
	Storage          map[string][]byte `msgpack:"storage"`
	MigrationHistory []string          `msgpack:"migration_history"`
}

func (s *Snapshot) Marshal() ([]byte, error) {
	return msgpack.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *Actor) captureSnapshot() (*Snapshot, error) {
	snap := &Snapshot{
		AgentName:        a.name,
		ModuleHash:       a.moduleHash,
		Conversations:    make(map[string][]byte),
		ConversationKind: make(map[string]string),
		MigrationHistory: append([]string(nil), a.migrationHistory...),
	}

	if a.instance != nil {
		mem := a.instance.Memory()
		snap.LinearMemory, _ = mem.Read(0, mem.Size())
	}

	a.machinesMu.Lock()
	for convID, machine := range a.machines {
		data, err := machine.SerializeState()
		if err != nil {
			a.machinesMu.Unlock()
			return nil, err
		}
		snap.Conversations[convID] = data
		snap.ConversationKind[convID] = string(machine.ProtocolType())
	}
	a.machinesMu.Unlock()

	if a.kv != nil {
		storage, err := a.kv.Snapshot()
		if err != nil {
			return nil, err
		}
		snap.Storage = storage
	}

	return snap, nil
}

func (a *Actor) restoreSnapshot(snap *Snapshot) error {
	a.migrationHistory = append(append([]string(nil), snap.MigrationHistory...), a.name)

	if a.kv != nil && len(snap.Storage) > 0 {
		if err := a.kv.Restore(snap.Storage); err != nil {
			return err
		}
	}

	if a.instance != nil && len(snap.LinearMemory) > 0 {
		mem := a.instance.Memory()
		if !mem.Write(0, snap.LinearMemory) {
			return errRestoreMemoryTooSmall
		}
	}

	a.machinesMu.Lock()
	defer a.machinesMu.Unlock()
	for convID, kind := range snap.ConversationKind {
		machine, err := protocol.NewMachine(protocol.Kind(kind), acl.RoleParticipant, protocol.DefaultConfig(), nil)
		if err != nil {
			continue
		}
		if data, ok := snap.Conversations[convID]; ok {
			if err := machine.RestoreState(data); err != nil {
				return err
			}
		}
		a.machines[convID] = machine
		a.conv.GetOrCreate(convID, kind, acl.RoleParticipant)
	}

	return nil
}
