package actor

import (
	"context"
	"testing"
	"time"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/capability"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

func newTestActor(t *testing.T, outbound func(context.Context, *acl.Message) error) *Actor {
	t.Helper()
	a := New(Config{
		Name:            "agent-1",
		Capabilities:    capability.Default(),
		MailboxCapacity: 4,
		Outbound:        outbound,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a
}

func waitForState(t *testing.T, a *Actor, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if a.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, got %v", want, a.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestActorReachesActiveState(t *testing.T) {
	a := newTestActor(t, nil)
	waitForState(t, a, StateActive)
}

func TestDeliverRejectsDisallowedProtocol(t *testing.T) {
	a := New(Config{
		Name:         "agent-2",
		Capabilities: capability.Default().WithProtocols("request"),
	})
	msg, _ := acl.New("peer", acl.Inform, []string{"agent-2"}, nil)
	msg.Protocol = "contract-net"
	err := a.Deliver(msg)
	if fault.KindOf(err) != fault.KindProtocolNotAllowed {
		t.Fatalf("expected KindProtocolNotAllowed, got %v", err)
	}
}

func TestDeliverRejectsWhenMailboxFull(t *testing.T) {
	a := New(Config{Name: "agent-3", Capabilities: capability.Default(), MailboxCapacity: 1})
	msg, _ := acl.New("peer", acl.Inform, []string{"agent-3"}, nil)
	if err := a.Deliver(msg); err != nil {
		t.Fatal(err)
	}
	err := a.Deliver(msg)
	if fault.KindOf(err) != fault.KindMailboxFull {
		t.Fatalf("expected KindMailboxFull, got %v", err)
	}
}

func TestSuspendResume(t *testing.T) {
	a := newTestActor(t, nil)
	waitForState(t, a, StateActive)
	if err := a.Suspend(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, a, StateSuspended)
	if err := a.Resume(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, a, StateActive)
}

func TestShutdownTerminates(t *testing.T) {
	a := newTestActor(t, nil)
	waitForState(t, a, StateActive)
	if err := a.Shutdown(); err != nil {
		t.Fatal(err)
	}
	a.Wait()
	if a.State() != StateTerminated {
		t.Fatalf("expected terminated, got %v", a.State())
	}
}

func TestProcessMessageRepliesNotUnderstoodOnProtocolViolation(t *testing.T) {
	replies := make(chan *acl.Message, 1)
	a := newTestActor(t, func(_ context.Context, msg *acl.Message) error {
		replies <- msg
		return nil
	})
	waitForState(t, a, StateActive)

	msg, _ := acl.New("peer", acl.AcceptProposal, []string{"agent-1"}, nil) // invalid as a request opener
	msg.Protocol = "request"
	msg.ConversationID = "conv-1"
	if err := a.Deliver(msg); err != nil {
		t.Fatal(err)
	}

	select {
	case reply := <-replies:
		if reply.Performative != acl.NotUnderstood {
			t.Fatalf("expected not-understood, got %s", reply.Performative)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for not-understood reply")
	}
}
