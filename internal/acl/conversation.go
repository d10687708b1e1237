package acl

import (
	"sync"
	"time"
)

// Role is the local agent's role within a conversation (initiator,
// participant, auctioneer, bidder, broker, ...). The protocol state
// machines interpret the string; acl only stores it.
type Role string

const (
	RoleInitiator   Role = "initiator"
	RoleParticipant Role = "participant"
	RoleAuctioneer  Role = "auctioneer"
	RoleBidder      Role = "bidder"
	RoleBroker      Role = "broker"
	RoleRecruiter   Role = "recruiter"
	RoleProvider    Role = "provider"
	RoleClient      Role = "client"
)

// DefaultHistoryWindow is the bounded number of message IDs retained per
// conversation for in-reply-to resolution and duplicate detection. The
// base specification leaves this unspecified in prose; 256 is the
// explicit numeric choice this implementation makes (see SPEC_FULL.md).
const DefaultHistoryWindow = 256

// Conversation tracks everything needed to validate a sequence of
// messages sharing one conversation-id: which protocol governs it, the
// local agent's role, a bounded ring of previously observed message IDs
// (for in-reply-to checks and at-most-once deduplication), and creation
// time for age-based eviction.
//
// Conversation does not itself implement protocol semantics; callers
// (internal/actor, internal/protocol) attach a protocol.Machine keyed by
// (protocol, role) and drive it with messages this Conversation admits.
type Conversation struct {
	mu sync.Mutex

	ID          string
	Protocol    string
	Role        Role
	CreatedAt   time.Time
	historySeen map[string]struct{}
	historyRing []string
	window      int
}

// NewConversation creates a conversation for a freshly observed
// conversation-id. It is created when the first message with an unseen
// conversation-id is accepted (internal/router / internal/actor call this
// on a directory miss in the conversation table).
func NewConversation(id, protocol string, role Role) *Conversation {
	return &Conversation{
		ID:          id,
		Protocol:    protocol,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		historySeen: make(map[string]struct{}),
		window:      DefaultHistoryWindow,
	}
}

// Seen reports whether messageID has already been recorded in this
// conversation's bounded history. Used both for in-reply-to resolution
// and for at-most-once duplicate-message-id detection.
func (c *Conversation) Seen(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.historySeen[messageID]
	return ok
}

// Record appends messageID to the bounded history, evicting the oldest
// entry once the window is exceeded. Idempotent: recording an
// already-seen ID is a no-op.
func (c *Conversation) Record(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.historySeen[messageID]; ok {
		return
	}
	c.historySeen[messageID] = struct{}{}
	c.historyRing = append(c.historyRing, messageID)
	if len(c.historyRing) > c.window {
		oldest := c.historyRing[0]
		c.historyRing = c.historyRing[1:]
		delete(c.historySeen, oldest)
	}
}

// ValidateInReplyTo checks the data-model invariant: if msg.InReplyTo is
// present, it must reference a message previously observed in this same
// conversation.
func (c *Conversation) ValidateInReplyTo(msg *Message) bool {
	if msg.InReplyTo == "" {
		return true
	}
	return c.Seen(msg.InReplyTo)
}

// Age returns how long this conversation has existed, used by eviction
// policies for conversations that never reach a terminal protocol state.
func (c *Conversation) Age() time.Duration {
	return time.Since(c.CreatedAt)
}

// Table is a concurrency-safe map of conversation-id to *Conversation,
// owned exclusively by one Agent Actor (never shared across actors).
type Table struct {
	mu   sync.RWMutex
	byID map[string]*Conversation
}

func NewTable() *Table {
	return &Table{byID: make(map[string]*Conversation)}
}

// GetOrCreate returns the existing conversation for id, or creates one
// with the given protocol/role if this is the first message observed for
// that conversation-id.
func (t *Table) GetOrCreate(id, protocol string, role Role) *Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byID[id]; ok {
		return c
	}
	c := NewConversation(id, protocol, role)
	t.byID[id] = c
	return c
}

// Get returns the conversation for id, if one exists.
func (t *Table) Get(id string) (*Conversation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	return c, ok
}

// Delete removes a conversation, called when its protocol state machine
// reaches a terminal state or it is evicted for age.
func (t *Table) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// EvictOlderThan removes every conversation whose Age exceeds max,
// returning the number evicted.
func (t *Table) EvictOlderThan(max time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, c := range t.byID {
		if c.Age() > max {
			delete(t.byID, id)
			n++
		}
	}
	return n
}

// Len reports the number of live conversations, mostly for tests and
// metrics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
