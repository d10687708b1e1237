// Package protocol implements the per-conversation protocol state
// machines: deterministic validators over the performative stream within
// one conversation, keyed by (protocol, role).
//
// The closed set of protocols is modeled as a tagged union dispatched by
// ProtocolType(), per the Design Note in the base specification, rather
// than a class hierarchy: each Kind has its own file with its own state
// enum, and NewMachine is the single switch that ties them together.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/greenpdx/fipa-wasm/internal/acl"
)

// Kind identifies which protocol family a Machine implements.
type Kind string

const (
	KindRequest              Kind = "request"
	KindQuery                Kind = "query"
	KindContractNet          Kind = "contract-net"
	KindIteratedContractNet  Kind = "iterated-contract-net"
	KindSubscribe            Kind = "subscribe"
	KindPropose              Kind = "propose"
	KindEnglishAuction       Kind = "english-auction"
	KindDutchAuction         Kind = "dutch-auction"
	KindBrokering            Kind = "brokering"
	KindRecruiting           Kind = "recruiting"
)

// Outcome classifies what Process did with an accepted message.
type Outcome int

const (
	Continue Outcome = iota
	Respond
	Complete
	Failed
)

// Result is returned by Process. Reply is non-nil only when Outcome is
// Respond. Data carries the conversation's result on Complete, and
// Subscribe also sets it on Respond with each notification's content.
// Reason explains a Failed outcome; Subscribe also sets it when a cancel
// completes the subscription.
type Result struct {
	Outcome Outcome
	Reply   *acl.Message
	Replies []*acl.Message
	Data    interface{}
	Reason  string
}

// ProtocolError is returned by Validate when a message's performative is
// not acceptable in the machine's current state. It maps to a
// not-understood reply at the actor layer.
type ProtocolError struct {
	Protocol Kind
	State    string
	Got      acl.Performative
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: state %s rejected performative %s: %s", e.Protocol, e.State, e.Got, e.Detail)
}

// Machine is implemented by every protocol family. Terminal states are
// final: once IsComplete returns true, Validate must reject every
// subsequent message (the monotonicity invariant from the testable
// properties section).
type Machine interface {
	ProtocolType() Kind
	Validate(msg *acl.Message) error
	Process(msg *acl.Message) (Result, error)
	IsComplete() bool
	SerializeState() ([]byte, error)
	RestoreState(data []byte) error
}

// Deadlinable is implemented by protocol machines that can be forced out
// of a response-collecting state when their reply-by deadline elapses
// before every participant has responded. Contract Net (and Iterated
// Contract Net) is the base specification's only protocol with this
// behavior; machines that don't implement it never time out early.
type Deadlinable interface {
	Deadline() (Result, error)
}

// Config bounds behavior left open by the base specification: the
// history window (owned by acl.Conversation, referenced here for
// documentation) and the round cap for Iterated Contract Net.
type Config struct {
	HistoryWindow        int
	MaxContractNetRounds int
}

// DefaultConfig returns the numeric choices this implementation makes
// for the Open Questions the base specification leaves unspecified.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:        acl.DefaultHistoryWindow,
		MaxContractNetRounds: 3,
	}
}

// NewMachine constructs the Machine for (kind, role). participants is
// only consulted by Contract Net/Iterated Contract Net/Brokering/
// Recruiting roles that need to know who they are
// coordinating with; it is ignored otherwise.
func NewMachine(kind Kind, role acl.Role, cfg Config, participants []string) (Machine, error) {
	switch kind {
	case KindRequest:
		return newReplyMachine(KindRequest, role), nil
	case KindQuery:
		return newReplyMachine(KindQuery, role), nil
	case KindContractNet:
		return newContractNet(role, participants, cfg.MaxContractNetRounds, false), nil
	case KindIteratedContractNet:
		return newContractNet(role, participants, cfg.MaxContractNetRounds, true), nil
	case KindSubscribe:
		return newSubscribeMachine(role), nil
	case KindPropose:
		return newProposeMachine(role), nil
	case KindEnglishAuction:
		return newEnglishAuction(role), nil
	case KindDutchAuction:
		return newDutchAuction(role), nil
	case KindBrokering:
		return newBrokerMachine(role, participants, false), nil
	case KindRecruiting:
		return newBrokerMachine(role, participants, true), nil
	default:
		return nil, fmt.Errorf("protocol: unknown kind %q", kind)
	}
}

func marshalState(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalState(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
