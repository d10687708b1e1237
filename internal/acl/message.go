// Package acl implements the agent-communication message vocabulary: the
// Message and Conversation types from the data model, plus the bookkeeping
// (uniqueness, in-reply-to resolution, bounded history) that the protocol
// state machines and the router both depend on.
//
// The shape follows the teacher's envelope.Envelope (one struct carrying
// routing plus payload plus tracing fields, immutable after construction,
// JSON-marshalable for the wire) generalized from pipeline envelopes to
// FIPA-ACL messages.
package acl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentID is a stable name, unique within a logical platform. Identity
// equality is by name only; Addresses are hints for the transport layer,
// never used for equality or lookup.
type AgentID struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
}

// Message is the wire-level ACL message described in the data model.
type Message struct {
	MessageID      string       `json:"message_id"`
	Performative   Performative `json:"performative"`
	Sender         string       `json:"sender"`
	Receivers      []string     `json:"receivers"`
	Protocol       string       `json:"protocol,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	InReplyTo      string       `json:"in_reply_to,omitempty"`
	ReplyByMs      int64        `json:"reply_by_ms,omitempty"`
	Language       string       `json:"language,omitempty"`
	Ontology       string       `json:"ontology,omitempty"`
	Content        []byte       `json:"content,omitempty"`
}

// New builds a Message with a fresh message ID and the required fields
// set. Callers fill in the rest (Protocol, ConversationID, ...) before
// handing it to the router.
func New(sender string, performative Performative, receivers []string, content []byte) (*Message, error) {
	if !performative.Valid() {
		return nil, fmt.Errorf("acl: unrecognized performative %q", performative)
	}
	if len(receivers) == 0 {
		return nil, fmt.Errorf("acl: message must have at least one receiver")
	}
	return &Message{
		MessageID:    uuid.New().String(),
		Performative: performative,
		Sender:       sender,
		Receivers:    append([]string(nil), receivers...),
		Content:      content,
	}, nil
}

// ReplyBy returns the reply-by deadline as a time.Time in UTC, or the zero
// Time if none was set.
func (m *Message) ReplyBy() time.Time {
	if m.ReplyByMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.ReplyByMs).UTC()
}

// SetReplyBy sets the reply-by deadline from a UTC time.
func (m *Message) SetReplyBy(t time.Time) {
	m.ReplyByMs = t.UTC().UnixMilli()
}

// Validate checks the structural invariants from the data model that don't
// require conversation context (global message-id uniqueness and
// in-reply-to resolution are checked by the Conversation, not here).
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("acl: message_id is required")
	}
	if !m.Performative.Valid() {
		return fmt.Errorf("acl: unrecognized performative %q", m.Performative)
	}
	if m.Sender == "" {
		return fmt.Errorf("acl: sender is required")
	}
	if len(m.Receivers) == 0 {
		return fmt.Errorf("acl: receivers must be non-empty")
	}
	return nil
}

// ToJSON serializes the message for transport or persistence.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON deserializes a message previously produced by ToJSON.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Clone returns a deep copy of the message, safe to mutate independently.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Receivers = append([]string(nil), m.Receivers...)
	if m.Content != nil {
		clone.Content = append([]byte(nil), m.Content...)
	}
	return &clone
}
