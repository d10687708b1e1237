package protocol

import (
	"github.com/greenpdx/fipa-wasm/internal/acl"
)

type brokerState string

const (
	brokerIdle       brokerState = "idle"
	brokerDelegated  brokerState = "delegated"
	brokerTerminal   brokerState = "terminal"
)

// brokerMachine implements both Brokering and Recruiting: a client sends
// a request (wrapped in a proxy/propagate envelope in the Brokering
// case), the broker or recruiter forwards it to one or more providers,
// and replies are aggregated (Brokering: broker collects all provider
// replies and returns one inform-result to the client) or passed through
// individually (Recruiting: each provider reply is forwarded as it
// arrives). The base specification treats Recruiting as Brokering with
// direct provider-to-client replies instead of aggregation, so one state
// machine with a recruiting flag covers both.
type brokerMachine struct {
	role        acl.Role
	providers   []string
	recruiting  bool

	state   brokerState
	results map[string][]byte
}

func newBrokerMachine(role acl.Role, providers []string, recruiting bool) *brokerMachine {
	return &brokerMachine{
		role: role, providers: providers, recruiting: recruiting,
		state: brokerIdle, results: make(map[string][]byte),
	}
}

func (m *brokerMachine) ProtocolType() Kind {
	if m.recruiting {
		return KindRecruiting
	}
	return KindBrokering
}

func (m *brokerMachine) Validate(msg *acl.Message) error {
	switch m.state {
	case brokerIdle:
		switch msg.Performative {
		case acl.Proxy, acl.Propagate, acl.Request:
			return nil
		}
		return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "expected proxy, propagate, or request"}
	case brokerDelegated:
		switch msg.Performative {
		case acl.InformResult, acl.InformDone, acl.Inform, acl.Failure, acl.Refuse:
			return nil
		}
		return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "expected a provider reply"}
	default:
		return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "conversation already terminal"}
	}
}

func (m *brokerMachine) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case brokerIdle:
		m.state = brokerDelegated
		return Result{Outcome: Respond}, nil
	case brokerDelegated:
		if m.recruiting {
			// each provider reply passes through immediately; the
			// conversation completes once every recruited provider has
			// replied once.
			m.results[msg.Sender] = msg.Content
			if len(m.results) >= len(m.providers) {
				m.state = brokerTerminal
				return Result{Outcome: Complete, Data: m.results}, nil
			}
			return Result{Outcome: Respond, Reply: msg}, nil
		}
		m.results[msg.Sender] = msg.Content
		if len(m.results) >= len(m.providers) {
			m.state = brokerTerminal
			return Result{Outcome: Complete, Data: m.results}, nil
		}
		return Result{Outcome: Continue}, nil
	}
	return Result{Outcome: Continue}, nil
}

func (m *brokerMachine) IsComplete() bool { return m.state == brokerTerminal }

type brokerSnapshot struct {
	Role       acl.Role          `json:"role"`
	Providers  []string          `json:"providers"`
	Recruiting bool              `json:"recruiting"`
	State      brokerState       `json:"state"`
	Results    map[string][]byte `json:"results"`
}

func (m *brokerMachine) SerializeState() ([]byte, error) {
	return marshalState(brokerSnapshot{
		Role: m.role, Providers: m.providers, Recruiting: m.recruiting,
		State: m.state, Results: m.results,
	})
}

func (m *brokerMachine) RestoreState(data []byte) error {
	var s brokerSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.providers = s.Providers
	m.recruiting = s.Recruiting
	m.state = s.State
	m.results = s.Results
	if m.results == nil {
		m.results = make(map[string][]byte)
	}
	return nil
}
