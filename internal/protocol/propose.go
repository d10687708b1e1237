package protocol

import (
	"github.com/greenpdx/fipa-wasm/internal/acl"
)

type proposeState string

const (
	proposeIdle     proposeState = "idle"
	proposeProposed proposeState = "proposed"
	proposeTerminal proposeState = "terminal"
)

// proposeMachine implements the standalone Propose protocol (a single
// proposal outside the Contract Net fan-out): idle -> proposed on
// propose, terminal on accept-proposal or reject-proposal.
type proposeMachine struct {
	role  acl.Role
	state proposeState
}

func newProposeMachine(role acl.Role) *proposeMachine {
	return &proposeMachine{role: role, state: proposeIdle}
}

func (m *proposeMachine) ProtocolType() Kind { return KindPropose }

func (m *proposeMachine) Validate(msg *acl.Message) error {
	switch m.state {
	case proposeIdle:
		if msg.Performative != acl.Propose {
			return &ProtocolError{Protocol: KindPropose, State: string(m.state), Got: msg.Performative, Detail: "expected propose"}
		}
	case proposeProposed:
		if msg.Performative != acl.AcceptProposal && msg.Performative != acl.RejectProposal {
			return &ProtocolError{Protocol: KindPropose, State: string(m.state), Got: msg.Performative, Detail: "expected accept-proposal or reject-proposal"}
		}
	default:
		return &ProtocolError{Protocol: KindPropose, State: string(m.state), Got: msg.Performative, Detail: "conversation already terminal"}
	}
	return nil
}

func (m *proposeMachine) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case proposeIdle:
		m.state = proposeProposed
		return Result{Outcome: Continue}, nil
	case proposeProposed:
		m.state = proposeTerminal
		if msg.Performative == acl.AcceptProposal {
			return Result{Outcome: Complete}, nil
		}
		return Result{Outcome: Failed, Reason: "rejected"}, nil
	}
	return Result{Outcome: Continue}, nil
}

func (m *proposeMachine) IsComplete() bool { return m.state == proposeTerminal }

type proposeSnapshot struct {
	Role  acl.Role     `json:"role"`
	State proposeState `json:"state"`
}

func (m *proposeMachine) SerializeState() ([]byte, error) {
	return marshalState(proposeSnapshot{Role: m.role, State: m.state})
}

func (m *proposeMachine) RestoreState(data []byte) error {
	var s proposeSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.state = s.State
	return nil
}
