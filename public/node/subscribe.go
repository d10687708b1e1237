package node

import (
	"sync"

	"github.com/greenpdx/fipa-wasm/internal/wire"
)

// subscriberHub fans out every envelope this node accepts via SendMessage
// to any NodeService.SubscribeMessages callers, giving an operator or a
// monitoring tool a live tap on inter-node traffic without the router
// itself needing to know about observers.
type subscriberHub struct {
	mu   sync.Mutex
	subs map[int]chan *wire.Envelope
	next int
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{subs: make(map[int]chan *wire.Envelope)}
}

func (h *subscriberHub) subscribe() (<-chan *wire.Envelope, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan *wire.Envelope, 32)
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// broadcast delivers env to every current subscriber without blocking; a
// slow subscriber drops the message rather than stalling message
// acceptance for the rest of the node.
func (h *subscriberHub) broadcast(env *wire.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
		}
	}
}
