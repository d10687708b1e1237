package acl

import (
	"testing"
	"time"
)

func TestNewRejectsUnknownPerformative(t *testing.T) {
	if _, err := New("pong", Performative("made-up"), []string{"ping"}, nil); err == nil {
		t.Fatal("expected error for unrecognized performative")
	}
}

func TestNewRejectsEmptyReceivers(t *testing.T) {
	if _, err := New("pong", Inform, nil, nil); err == nil {
		t.Fatal("expected error for empty receivers")
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	a, err := New("pong", Inform, []string{"ping"}, []byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("pong", Inform, []string{"ping"}, []byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	if a.MessageID == b.MessageID {
		t.Fatal("expected distinct message ids")
	}
}

func TestReplyByRoundTrip(t *testing.T) {
	m, _ := New("a", Request, []string{"b"}, nil)
	if !m.ReplyBy().IsZero() {
		t.Fatal("expected zero reply-by when unset")
	}
	at := time.UnixMilli(1_700_000_000_123).UTC()
	m.SetReplyBy(at)
	if !m.ReplyBy().Equal(at) {
		t.Fatalf("expected reply-by %v after SetReplyBy, got %v", at, m.ReplyBy())
	}
}

func TestConversationInReplyTo(t *testing.T) {
	c := NewConversation("conv-1", "request", RoleParticipant)
	req, _ := New("initiator", Request, []string{"participant"}, nil)
	c.Record(req.MessageID)

	reply, _ := New("participant", Agree, []string{"initiator"}, nil)
	reply.InReplyTo = req.MessageID
	if !c.ValidateInReplyTo(reply) {
		t.Fatal("expected in-reply-to to resolve against recorded history")
	}

	bogus, _ := New("participant", Agree, []string{"initiator"}, nil)
	bogus.InReplyTo = "never-seen"
	if c.ValidateInReplyTo(bogus) {
		t.Fatal("expected in-reply-to to a message never observed in this conversation to fail")
	}
}

func TestConversationHistoryWindowIsBounded(t *testing.T) {
	c := NewConversation("conv-2", "request", RoleParticipant)
	c.window = 4
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		m, _ := New("a", Inform, []string{"b"}, nil)
		ids = append(ids, m.MessageID)
		c.Record(m.MessageID)
	}
	if c.Seen(ids[0]) {
		t.Fatal("expected oldest message id to have been evicted")
	}
	if !c.Seen(ids[len(ids)-1]) {
		t.Fatal("expected most recent message id to still be recorded")
	}
}

func TestTableEvictOlderThan(t *testing.T) {
	tbl := NewTable()
	tbl.GetOrCreate("c1", "request", RoleInitiator)
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 conversation, got %d", tbl.Len())
	}
	n := tbl.EvictOlderThan(0)
	if n != 1 || tbl.Len() != 0 {
		t.Fatalf("expected eviction of the one stale conversation, evicted=%d remaining=%d", n, tbl.Len())
	}
}
