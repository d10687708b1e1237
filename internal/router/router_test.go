package router

import (
	"context"
	"testing"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

type fakeLocal struct {
	delivered map[string]*acl.Message
	hosts     map[string]struct{}
}

func (f *fakeLocal) HasLocal(name string) bool { _, ok := f.hosts[name]; return ok }
func (f *fakeLocal) DeliverLocal(name string, msg *acl.Message) error {
	f.delivered[name] = msg
	return nil
}

type fakeDir struct {
	entries map[string]directory.AgentEntry
}

func (f *fakeDir) Lookup(name string) (directory.AgentEntry, bool) {
	e, ok := f.entries[name]
	return e, ok
}

type fakeRemote struct {
	sent    []string
	failN   int
	nodeErr error
}

func (f *fakeRemote) SendTo(ctx context.Context, nodeID string, msg *acl.Message) error {
	f.sent = append(f.sent, nodeID)
	if f.failN > 0 {
		f.failN--
		return f.nodeErr
	}
	return nil
}

func TestRouteDeliversLocally(t *testing.T) {
	local := &fakeLocal{delivered: map[string]*acl.Message{}, hosts: map[string]struct{}{"b": {}}}
	r := New(Deps{Local: local, Dir: &fakeDir{}, Remote: &fakeRemote{}})

	msg, _ := acl.New("a", acl.Inform, []string{"b"}, nil)
	errs := r.Route(context.Background(), msg)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if local.delivered["b"] != msg {
		t.Fatal("expected local delivery")
	}
}

func TestRouteDispatchesRemoteViaDirectory(t *testing.T) {
	dir := &fakeDir{entries: map[string]directory.AgentEntry{"b": {NodeID: "node-2"}}}
	remote := &fakeRemote{}
	r := New(Deps{Local: &fakeLocal{delivered: map[string]*acl.Message{}, hosts: map[string]struct{}{}}, Dir: dir, Remote: remote})

	msg, _ := acl.New("a", acl.Inform, []string{"b"}, nil)
	errs := r.Route(context.Background(), msg)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(remote.sent) != 1 || remote.sent[0] != "node-2" {
		t.Fatalf("expected dispatch to node-2, got %v", remote.sent)
	}
}

func TestRouteDropsUnknownReceiver(t *testing.T) {
	r := New(Deps{Local: &fakeLocal{delivered: map[string]*acl.Message{}, hosts: map[string]struct{}{}}, Dir: &fakeDir{}, Remote: &fakeRemote{}})
	msg, _ := acl.New("a", acl.Inform, []string{"ghost"}, nil)
	errs := r.Route(context.Background(), msg)
	if len(errs) != 1 || fault.KindOf(errs[0]) != fault.KindAgentNotFound {
		t.Fatalf("expected KindAgentNotFound, got %v", errs)
	}
}

func TestRouteDropsPastDeadline(t *testing.T) {
	r := New(Deps{Local: &fakeLocal{delivered: map[string]*acl.Message{}, hosts: map[string]struct{}{}}, Dir: &fakeDir{}, Remote: &fakeRemote{}})
	msg, _ := acl.New("a", acl.Inform, []string{"b"}, nil)
	msg.SetReplyBy(msg.ReplyBy()) // zero value still in the past relative to "now" check below
	msg.ReplyByMs = 1             // 1ms since epoch: always in the past
	errs := r.Route(context.Background(), msg)
	if len(errs) != 1 || fault.KindOf(errs[0]) != fault.KindDeadlineExceeded {
		t.Fatalf("expected KindDeadlineExceeded, got %v", errs)
	}
}

func TestRouteDuplicateMessageIsDropped(t *testing.T) {
	local := &fakeLocal{delivered: map[string]*acl.Message{}, hosts: map[string]struct{}{"b": {}}}
	r := New(Deps{Local: local, Dir: &fakeDir{}, Remote: &fakeRemote{}})
	msg, _ := acl.New("a", acl.Inform, []string{"b"}, nil)
	msg.ConversationID = "conv-1"

	_ = r.Route(context.Background(), msg)
	local.delivered = map[string]*acl.Message{}
	errs := r.Route(context.Background(), msg)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors on duplicate: %v", errs)
	}
	if _, ok := local.delivered["b"]; ok {
		t.Fatal("expected duplicate message-id to be silently dropped, not re-delivered")
	}
}
