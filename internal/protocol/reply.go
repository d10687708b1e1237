package protocol

import (
	"github.com/greenpdx/fipa-wasm/internal/acl"
)

// replyState is the state enum shared by Request and Query: both are
// "one initiating performative, optional agree/refuse, one terminal
// reply" shapes per the base specification, so they share one
// implementation keyed by which Kind they report.
type replyState string

const (
	replyIdle           replyState = "idle"
	replyAwaitingReply  replyState = "awaiting-reply"
	replyTerminal       replyState = "terminal"
)

// replyMachine implements both the Request and the Query protocol: idle
// -> awaiting-reply on the initiating performative, then agree/refuse is
// optional, then a terminal reply (inform-done/inform-result/inform/
// failure/refuse) ends the conversation. Any other performative is
// rejected.
type replyMachine struct {
	kind  Kind
	role  acl.Role
	state replyState
}

func newReplyMachine(kind Kind, role acl.Role) *replyMachine {
	return &replyMachine{kind: kind, role: role, state: replyIdle}
}

func (m *replyMachine) ProtocolType() Kind { return m.kind }

func (m *replyMachine) initiatingPerformatives() map[acl.Performative]struct{} {
	if m.kind == KindQuery {
		return map[acl.Performative]struct{}{acl.QueryIf: {}, acl.QueryRef: {}}
	}
	return map[acl.Performative]struct{}{acl.Request: {}}
}

func (m *replyMachine) Validate(msg *acl.Message) error {
	switch m.state {
	case replyIdle:
		if _, ok := m.initiatingPerformatives()[msg.Performative]; !ok {
			return &ProtocolError{Protocol: m.kind, State: string(m.state), Got: msg.Performative, Detail: "expected initiating performative"}
		}
		return nil
	case replyAwaitingReply:
		switch msg.Performative {
		case acl.Agree, acl.Refuse, acl.InformDone, acl.InformResult, acl.Inform, acl.Failure, acl.NotUnderstood:
			return nil
		default:
			return &ProtocolError{Protocol: m.kind, State: string(m.state), Got: msg.Performative, Detail: "expected agree, refuse, or a terminal reply"}
		}
	default: // terminal
		return &ProtocolError{Protocol: m.kind, State: string(m.state), Got: msg.Performative, Detail: "conversation already terminal"}
	}
}

func (m *replyMachine) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case replyIdle:
		m.state = replyAwaitingReply
		return Result{Outcome: Continue}, nil
	case replyAwaitingReply:
		switch msg.Performative {
		case acl.Agree:
			return Result{Outcome: Continue}, nil
		case acl.Refuse, acl.Failure:
			m.state = replyTerminal
			return Result{Outcome: Failed, Reason: string(msg.Performative)}, nil
		case acl.InformDone, acl.InformResult, acl.Inform:
			m.state = replyTerminal
			return Result{Outcome: Complete, Data: msg.Content}, nil
		case acl.NotUnderstood:
			m.state = replyTerminal
			return Result{Outcome: Failed, Reason: "not-understood"}, nil
		}
	}
	return Result{Outcome: Continue}, nil
}

func (m *replyMachine) IsComplete() bool {
	return m.state == replyTerminal
}

type replyMachineState struct {
	Kind  Kind       `json:"kind"`
	Role  acl.Role   `json:"role"`
	State replyState `json:"state"`
}

func (m *replyMachine) SerializeState() ([]byte, error) {
	return marshalState(replyMachineState{Kind: m.kind, Role: m.role, State: m.state})
}

func (m *replyMachine) RestoreState(data []byte) error {
	var s replyMachineState
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.kind = s.Kind
	m.role = s.Role
	m.state = s.State
	return nil
}
