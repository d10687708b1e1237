package protocol

import (
	"testing"

	"github.com/greenpdx/fipa-wasm/internal/acl"
)

func mustMessage(t *testing.T, sender string, perf acl.Performative, receivers []string) *acl.Message {
	t.Helper()
	m, err := acl.New(sender, perf, receivers, nil)
	if err != nil {
		t.Fatalf("acl.New: %v", err)
	}
	return m
}

func TestRequestMachineHappyPath(t *testing.T) {
	m, err := NewMachine(KindRequest, acl.RoleParticipant, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsComplete() {
		t.Fatal("fresh machine must not be complete")
	}
	if _, err := m.Process(mustMessage(t, "initiator", acl.Request, []string{"participant"})); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Process(mustMessage(t, "participant", acl.Agree, []string{"initiator"})); err != nil {
		t.Fatal(err)
	}
	res, err := m.Process(mustMessage(t, "participant", acl.InformDone, []string{"initiator"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Complete {
		t.Fatalf("expected Complete, got %v", res.Outcome)
	}
	if !m.IsComplete() {
		t.Fatal("expected machine to be complete")
	}
}

func TestRequestMachineRejectsAfterTerminal(t *testing.T) {
	m, _ := NewMachine(KindRequest, acl.RoleParticipant, DefaultConfig(), nil)
	_, _ = m.Process(mustMessage(t, "initiator", acl.Request, []string{"participant"}))
	_, _ = m.Process(mustMessage(t, "participant", acl.Failure, []string{"initiator"}))
	if !m.IsComplete() {
		t.Fatal("expected terminal after failure")
	}
	if err := m.Validate(mustMessage(t, "participant", acl.Inform, []string{"initiator"})); err == nil {
		t.Fatal("expected terminal machine to reject further messages")
	}
}

func TestQueryMachineAcceptsQueryIfAndQueryRef(t *testing.T) {
	for _, perf := range []acl.Performative{acl.QueryIf, acl.QueryRef} {
		m, _ := NewMachine(KindQuery, acl.RoleParticipant, DefaultConfig(), nil)
		if err := m.Validate(mustMessage(t, "initiator", perf, []string{"participant"})); err != nil {
			t.Fatalf("perf %s: %v", perf, err)
		}
	}
}

func TestReplyMachineStateRoundTrip(t *testing.T) {
	m, _ := NewMachine(KindRequest, acl.RoleInitiator, DefaultConfig(), nil)
	_, _ = m.Process(mustMessage(t, "initiator", acl.Request, []string{"participant"}))
	data, err := m.SerializeState()
	if err != nil {
		t.Fatal(err)
	}
	restored, _ := NewMachine(KindRequest, acl.RoleInitiator, DefaultConfig(), nil)
	if err := restored.RestoreState(data); err != nil {
		t.Fatal(err)
	}
	if restored.IsComplete() != m.IsComplete() {
		t.Fatal("restored machine completeness diverges from original")
	}
}
