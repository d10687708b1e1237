package protocol

import (
	"testing"

	"github.com/greenpdx/fipa-wasm/internal/acl"
)

func TestContractNetAcceptOneRejectRest(t *testing.T) {
	participants := []string{"p1", "p2"}
	m, err := NewMachine(KindContractNet, acl.RoleInitiator, DefaultConfig(), participants)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Process(mustMessage(t, "initiator", acl.CFP, participants)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Process(mustMessage(t, "p1", acl.Propose, []string{"initiator"})); err != nil {
		t.Fatal(err)
	}
	res, err := m.Process(mustMessage(t, "p2", acl.Propose, []string{"initiator"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Respond {
		t.Fatalf("expected Respond once all proposals are in, got %v", res.Outcome)
	}
	res, err = m.Process(mustMessage(t, "initiator", acl.AcceptProposal, []string{"p1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Complete {
		t.Fatalf("expected Complete, got %v", res.Outcome)
	}
	if !m.IsComplete() {
		t.Fatal("expected terminal")
	}
}

func TestContractNetAllRefusedFails(t *testing.T) {
	participants := []string{"p1"}
	m, _ := NewMachine(KindContractNet, acl.RoleInitiator, DefaultConfig(), participants)
	_, _ = m.Process(mustMessage(t, "initiator", acl.CFP, participants))
	res, err := m.Process(mustMessage(t, "p1", acl.Refuse, []string{"initiator"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Respond {
		t.Fatalf("expected Respond (ready to decide), got %v", res.Outcome)
	}
	res, err = m.Process(mustMessage(t, "initiator", acl.RejectProposal, []string{"p1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Failed {
		t.Fatalf("expected Failed, got %v", res.Outcome)
	}
}

func TestIteratedContractNetRevisesOnNoProposals(t *testing.T) {
	participants := []string{"p1"}
	cfg := DefaultConfig()
	cfg.MaxContractNetRounds = 3
	m, _ := NewMachine(KindIteratedContractNet, acl.RoleInitiator, cfg, participants)
	_, _ = m.Process(mustMessage(t, "initiator", acl.CFP, participants))
	res, err := m.Process(mustMessage(t, "p1", acl.Refuse, []string{"initiator"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Continue {
		t.Fatalf("expected Continue (revising-cfp) before the round cap, got %v", res.Outcome)
	}
	if m.IsComplete() {
		t.Fatal("iterated contract net must not be complete while rounds remain")
	}
}
