package directory

import (
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func applyCmd(t *testing.T, fsm *FSM, cmd Command) interface{} {
	t.Helper()
	data, err := cmd.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return fsm.Apply(&raft.Log{Data: data})
}

func TestRegisterAndLookupAgent(t *testing.T) {
	fsm := NewFSM()
	if res := applyCmd(t, fsm, Command{Kind: CmdRegisterAgent, AgentName: "a1", NodeID: "node-1"}); res != nil {
		t.Fatalf("unexpected apply error: %v", res)
	}
	entry, ok := fsm.Lookup("a1")
	if !ok || entry.NodeID != "node-1" || entry.Epoch != 1 {
		t.Fatalf("unexpected entry: %+v ok=%v", entry, ok)
	}
}

func TestMigrateAgentRejectsStaleEpoch(t *testing.T) {
	fsm := NewFSM()
	applyCmd(t, fsm, Command{Kind: CmdRegisterAgent, AgentName: "a1", NodeID: "node-1"})
	applyCmd(t, fsm, Command{Kind: CmdMigrateAgent, AgentName: "a1", FromNode: "node-1", ToNode: "node-2", NewEpoch: 5})

	res := applyCmd(t, fsm, Command{Kind: CmdMigrateAgent, AgentName: "a1", FromNode: "node-2", ToNode: "node-1", NewEpoch: 2})
	if res == nil {
		t.Fatal("expected stale epoch to be rejected")
	}

	entry, _ := fsm.Lookup("a1")
	if entry.NodeID != "node-2" || entry.Epoch != 5 {
		t.Fatalf("stale migration must not mutate state, got %+v", entry)
	}
}

func TestMigrateAgentIdempotentReproposal(t *testing.T) {
	fsm := NewFSM()
	applyCmd(t, fsm, Command{Kind: CmdRegisterAgent, AgentName: "a1", NodeID: "node-1"})
	applyCmd(t, fsm, Command{Kind: CmdMigrateAgent, AgentName: "a1", FromNode: "node-1", ToNode: "node-2", NewEpoch: 5})
	res := applyCmd(t, fsm, Command{Kind: CmdMigrateAgent, AgentName: "a1", FromNode: "node-1", ToNode: "node-2", NewEpoch: 5})
	if res != nil {
		t.Fatalf("expected idempotent re-proposal to succeed, got %v", res)
	}
}

func TestServiceRegistrationAndLeaseEviction(t *testing.T) {
	fsm := NewFSM()
	applyCmd(t, fsm, Command{
		Kind: CmdRegisterService, ServiceName: "translate", AgentName: "a1",
		ServiceType: "translator", LeaseTTL: time.Millisecond,
	})
	providers := fsm.FindService("translate", 0)
	if len(providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(providers))
	}

	time.Sleep(5 * time.Millisecond)
	evicted := fsm.EvictExpiredServices(time.Now())
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if len(fsm.FindService("translate", 0)) != 0 {
		t.Fatal("expected provider to be gone after eviction")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	fsm := NewFSM()
	applyCmd(t, fsm, Command{Kind: CmdRegisterAgent, AgentName: "a1", NodeID: "node-1"})
	applyCmd(t, fsm, Command{Kind: CmdRegisterService, ServiceName: "svc", AgentName: "a1", ServiceType: "t"})

	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	sink := newMemSink()
	if err := snap.Persist(sink); err != nil {
		t.Fatal(err)
	}

	restored := NewFSM()
	if err := restored.Restore(sink.reader()); err != nil {
		t.Fatal(err)
	}
	entry, ok := restored.Lookup("a1")
	if !ok || entry.NodeID != "node-1" {
		t.Fatalf("unexpected restored entry: %+v ok=%v", entry, ok)
	}
	if len(restored.FindService("svc", 0)) != 1 {
		t.Fatal("expected restored service registry to contain the provider")
	}
}
