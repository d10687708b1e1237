package protocol

import (
	"github.com/greenpdx/fipa-wasm/internal/acl"
)

type subscribeState string

const (
	subIdle       subscribeState = "idle"
	subSubscribed subscribeState = "subscribed"
	subTerminal   subscribeState = "terminal"
)

// subscribeMachine implements Subscribe: idle -> subscribed on a
// subscribe message, then repeated inform notifications while the
// subscription is live, terminated by cancel from the subscriber or
// failure from the publisher. request-when/request-whenever are accepted
// as equivalent subscription-establishing performatives per the base
// specification's note that they are conditional variants of subscribe.
type subscribeMachine struct {
	role  acl.Role
	state subscribeState
}

func newSubscribeMachine(role acl.Role) *subscribeMachine {
	return &subscribeMachine{role: role, state: subIdle}
}

func (m *subscribeMachine) ProtocolType() Kind { return KindSubscribe }

func (m *subscribeMachine) Validate(msg *acl.Message) error {
	switch m.state {
	case subIdle:
		switch msg.Performative {
		case acl.Subscribe, acl.RequestWhen, acl.RequestWhenever:
			return nil
		}
		return &ProtocolError{Protocol: KindSubscribe, State: string(m.state), Got: msg.Performative, Detail: "expected subscribe, request-when, or request-whenever"}
	case subSubscribed:
		switch msg.Performative {
		case acl.Inform, acl.Cancel, acl.Failure, acl.NotUnderstood:
			return nil
		}
		return &ProtocolError{Protocol: KindSubscribe, State: string(m.state), Got: msg.Performative, Detail: "expected inform, cancel, or failure"}
	default:
		return &ProtocolError{Protocol: KindSubscribe, State: string(m.state), Got: msg.Performative, Detail: "conversation already terminal"}
	}
}

func (m *subscribeMachine) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case subIdle:
		m.state = subSubscribed
		return Result{Outcome: Continue}, nil
	case subSubscribed:
		switch msg.Performative {
		case acl.Inform:
			return Result{Outcome: Respond, Data: msg.Content}, nil
		case acl.Cancel:
			m.state = subTerminal
			return Result{Outcome: Complete, Reason: "cancelled"}, nil
		case acl.Failure, acl.NotUnderstood:
			m.state = subTerminal
			return Result{Outcome: Failed, Reason: string(msg.Performative)}, nil
		}
	}
	return Result{Outcome: Continue}, nil
}

func (m *subscribeMachine) IsComplete() bool { return m.state == subTerminal }

type subscribeSnapshot struct {
	Role  acl.Role       `json:"role"`
	State subscribeState `json:"state"`
}

func (m *subscribeMachine) SerializeState() ([]byte, error) {
	return marshalState(subscribeSnapshot{Role: m.role, State: m.state})
}

func (m *subscribeMachine) RestoreState(data []byte) error {
	var s subscribeSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.state = s.State
	return nil
}
