package protocol

import (
	"github.com/greenpdx/fipa-wasm/internal/acl"
)

type contractNetState string

const (
	cnIdle                contractNetState = "idle"
	cnCollectingProposals contractNetState = "collecting-proposals"
	cnRevisingCFP         contractNetState = "revising-cfp"
	cnDeciding            contractNetState = "deciding"
	cnTerminal            contractNetState = "terminal"
)

// contractNet implements both Contract Net and Iterated Contract Net: an
// initiator sends a cfp to a fixed set of participants, each replies
// propose or refuse, and the initiator accepts at most one proposal and
// rejects the rest. The iterated variant allows the initiator to loop
// back to a revised cfp up to maxRounds times before it must decide.
type contractNet struct {
	role         acl.Role
	participants []string
	iterated     bool
	maxRounds    int

	state     contractNetState
	round     int
	proposals map[string]*acl.Message // sender -> propose message
	refused   map[string]struct{}
	decided   bool
}

func newContractNet(role acl.Role, participants []string, maxRounds int, iterated bool) *contractNet {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	return &contractNet{
		role:         role,
		participants: participants,
		iterated:     iterated,
		maxRounds:    maxRounds,
		state:        cnIdle,
		round:        1,
		proposals:    make(map[string]*acl.Message),
		refused:      make(map[string]struct{}),
	}
}

func (m *contractNet) ProtocolType() Kind {
	if m.iterated {
		return KindIteratedContractNet
	}
	return KindContractNet
}

func (m *contractNet) allResponsesIn() bool {
	return len(m.proposals)+len(m.refused) >= len(m.participants)
}

func (m *contractNet) Validate(msg *acl.Message) error {
	switch m.state {
	case cnIdle:
		if msg.Performative != acl.CFP {
			return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "expected cfp"}
		}
	case cnCollectingProposals, cnRevisingCFP:
		switch msg.Performative {
		case acl.Propose, acl.Refuse:
		case acl.CFP:
			// CFP only valid in revising-cfp (iterated re-announce), which
			// is entered once all current responses are in and rounds remain.
			if m.state != cnRevisingCFP {
				return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "cfp only valid while revising the cfp"}
			}
		default:
			return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "expected propose, refuse, or cfp"}
		}
	case cnDeciding:
		if msg.Performative != acl.AcceptProposal && msg.Performative != acl.RejectProposal {
			return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "expected accept-proposal or reject-proposal"}
		}
	default:
		return &ProtocolError{Protocol: m.ProtocolType(), State: string(m.state), Got: msg.Performative, Detail: "conversation already terminal"}
	}
	return nil
}

func (m *contractNet) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case cnIdle:
		m.state = cnCollectingProposals
		return Result{Outcome: Continue}, nil
	case cnCollectingProposals, cnRevisingCFP:
		switch msg.Performative {
		case acl.Propose:
			m.proposals[msg.Sender] = msg
		case acl.Refuse:
			m.refused[msg.Sender] = struct{}{}
		case acl.CFP:
			m.round++
			m.proposals = make(map[string]*acl.Message)
			m.refused = make(map[string]struct{})
			m.state = cnCollectingProposals
			return Result{Outcome: Continue}, nil
		}
		if m.allResponsesIn() {
			if m.iterated && len(m.proposals) == 0 && m.round < m.maxRounds {
				m.state = cnRevisingCFP
				return Result{Outcome: Continue}, nil
			}
			m.state = cnDeciding
			return Result{Outcome: Respond}, nil
		}
		return Result{Outcome: Continue}, nil
	case cnDeciding:
		m.decided = true
		m.state = cnTerminal
		if msg.Performative == acl.AcceptProposal {
			return Result{Outcome: Complete, Data: msg.Receivers}, nil
		}
		return Result{Outcome: Failed, Reason: "all proposals rejected"}, nil
	}
	return Result{Outcome: Continue}, nil
}

// Deadline forces collecting-proposals/revising-cfp straight into
// deciding when the cfp's reply-by elapses before every participant has
// responded, satisfying the base specification's "on deadline or receipt
// of all responses" transition. It is a no-op once already deciding or
// terminal, so a deadline firing after the natural transition already
// fired does nothing.
func (m *contractNet) Deadline() (Result, error) {
	switch m.state {
	case cnCollectingProposals, cnRevisingCFP:
		m.state = cnDeciding
		return Result{Outcome: Respond}, nil
	default:
		return Result{Outcome: Continue}, nil
	}
}

func (m *contractNet) IsComplete() bool {
	return m.state == cnTerminal
}

type contractNetSnapshot struct {
	Role         acl.Role         `json:"role"`
	Participants []string         `json:"participants"`
	Iterated     bool             `json:"iterated"`
	MaxRounds    int              `json:"max_rounds"`
	State        contractNetState `json:"state"`
	Round        int              `json:"round"`
	Proposals    []string         `json:"proposals"` // senders only; payload not needed to resume
	Refused      []string         `json:"refused"`
	Decided      bool             `json:"decided"`
}

func (m *contractNet) SerializeState() ([]byte, error) {
	s := contractNetSnapshot{
		Role: m.role, Participants: m.participants, Iterated: m.iterated,
		MaxRounds: m.maxRounds, State: m.state, Round: m.round, Decided: m.decided,
	}
	for sender := range m.proposals {
		s.Proposals = append(s.Proposals, sender)
	}
	for sender := range m.refused {
		s.Refused = append(s.Refused, sender)
	}
	return marshalState(s)
}

func (m *contractNet) RestoreState(data []byte) error {
	var s contractNetSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.participants = s.Participants
	m.iterated = s.Iterated
	m.maxRounds = s.MaxRounds
	m.state = s.State
	m.round = s.Round
	m.decided = s.Decided
	m.proposals = make(map[string]*acl.Message, len(s.Proposals))
	for _, sender := range s.Proposals {
		m.proposals[sender] = nil
	}
	m.refused = make(map[string]struct{}, len(s.Refused))
	for _, sender := range s.Refused {
		m.refused[sender] = struct{}{}
	}
	return nil
}
