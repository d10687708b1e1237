package protocol

import (
	"strconv"
	"strings"

	"github.com/greenpdx/fipa-wasm/internal/acl"
)

// auctions encode the bid/ask amount as the decimal ASCII text of the
// message content, the simplest wire representation that lets the
// protocol layer enforce the monotonicity invariant without depending on
// an application-defined content ontology.
func parseAmount(content []byte) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(content)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type auctionState string

const (
	auctionIdle     auctionState = "idle"
	auctionOpen     auctionState = "open"
	auctionTerminal auctionState = "terminal"
)

// englishAuction implements the English Auction: ascending bids, each
// greater than or equal to the current high bid plus
// minIncrement, first-arrival wins ties at the same amount (the explicit
// resolution of the base specification's simultaneous-bid Open
// Question). The opening cfp carries the minimum increment as its
// decimal content, same encoding as a bid; propose then carries a bid;
// accept-proposal from the auctioneer closes it in favor of the current
// leader.
type englishAuction struct {
	role         acl.Role
	minIncrement float64

	state       auctionState
	highBid     float64
	highBidder  string
	haveBid     bool
}

func newEnglishAuction(role acl.Role) *englishAuction {
	return &englishAuction{role: role, state: auctionIdle}
}

func (m *englishAuction) ProtocolType() Kind { return KindEnglishAuction }

func (m *englishAuction) Validate(msg *acl.Message) error {
	switch m.state {
	case auctionIdle:
		if msg.Performative != acl.CFP {
			return &ProtocolError{Protocol: KindEnglishAuction, State: string(m.state), Got: msg.Performative, Detail: "expected cfp to open the auction"}
		}
	case auctionOpen:
		switch msg.Performative {
		case acl.Propose:
			amount, ok := parseAmount(msg.Content)
			if !ok {
				return &ProtocolError{Protocol: KindEnglishAuction, State: string(m.state), Got: msg.Performative, Detail: "bid content is not a decimal amount"}
			}
			if m.haveBid && amount < m.highBid+m.minIncrement {
				return &ProtocolError{Protocol: KindEnglishAuction, State: string(m.state), Got: msg.Performative, Detail: "bid below current high plus minimum increment"}
			}
		case acl.AcceptProposal, acl.Cancel:
			// auctioneer closes the auction
		default:
			return &ProtocolError{Protocol: KindEnglishAuction, State: string(m.state), Got: msg.Performative, Detail: "expected propose, accept-proposal, or cancel"}
		}
	default:
		return &ProtocolError{Protocol: KindEnglishAuction, State: string(m.state), Got: msg.Performative, Detail: "auction already closed"}
	}
	return nil
}

func (m *englishAuction) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case auctionIdle:
		if amount, ok := parseAmount(msg.Content); ok {
			m.minIncrement = amount
		}
		m.state = auctionOpen
		return Result{Outcome: Continue}, nil
	case auctionOpen:
		switch msg.Performative {
		case acl.Propose:
			amount, _ := parseAmount(msg.Content)
			// Strictly-greater replaces the leader; an equal bid loses the
			// tie to whoever is already recorded (first arrival wins).
			if !m.haveBid || amount > m.highBid {
				m.highBid = amount
				m.highBidder = msg.Sender
				m.haveBid = true
			}
			return Result{Outcome: Continue}, nil
		case acl.AcceptProposal:
			m.state = auctionTerminal
			if !m.haveBid {
				return Result{Outcome: Failed, Reason: "no bids received"}, nil
			}
			return Result{Outcome: Complete, Data: m.highBidder}, nil
		case acl.Cancel:
			m.state = auctionTerminal
			return Result{Outcome: Failed, Reason: "cancelled"}, nil
		}
	}
	return Result{Outcome: Continue}, nil
}

func (m *englishAuction) IsComplete() bool { return m.state == auctionTerminal }

type englishAuctionSnapshot struct {
	Role         acl.Role     `json:"role"`
	MinIncrement float64      `json:"min_increment"`
	State        auctionState `json:"state"`
	HighBid      float64      `json:"high_bid"`
	HighBidder   string       `json:"high_bidder"`
	HaveBid      bool         `json:"have_bid"`
}

func (m *englishAuction) SerializeState() ([]byte, error) {
	return marshalState(englishAuctionSnapshot{
		Role: m.role, MinIncrement: m.minIncrement, State: m.state,
		HighBid: m.highBid, HighBidder: m.highBidder, HaveBid: m.haveBid,
	})
}

func (m *englishAuction) RestoreState(data []byte) error {
	var s englishAuctionSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.minIncrement = s.MinIncrement
	m.state = s.State
	m.highBid = s.HighBid
	m.highBidder = s.HighBidder
	m.haveBid = s.HaveBid
	return nil
}

// dutchAuction implements the Dutch Auction: the auctioneer announces a
// descending ask via successive cfp/propose-from-auctioneer messages
// (modeled here as repeated cfp carrying the current ask in Content),
// and the first participant to send accept-proposal at or above the
// reserve wins; the ask may never fall below reserve.
type dutchAuction struct {
	role    acl.Role
	reserve float64

	state       auctionState
	currentAsk  float64
	haveAsk     bool
	winner      string
}

func newDutchAuction(role acl.Role) *dutchAuction {
	return &dutchAuction{role: role, state: auctionIdle}
}

func (m *dutchAuction) ProtocolType() Kind { return KindDutchAuction }

func (m *dutchAuction) Validate(msg *acl.Message) error {
	switch m.state {
	case auctionIdle:
		if msg.Performative != acl.CFP {
			return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "expected cfp carrying the opening ask"}
		}
		amount, ok := parseAmount(msg.Content)
		if !ok {
			return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "ask content is not a decimal amount"}
		}
		if amount < m.reserve {
			return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "ask below reserve"}
		}
	case auctionOpen:
		switch msg.Performative {
		case acl.CFP:
			amount, ok := parseAmount(msg.Content)
			if !ok {
				return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "ask content is not a decimal amount"}
			}
			if amount < m.reserve {
				return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "ask below reserve"}
			}
			if m.haveAsk && amount > m.currentAsk {
				return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "ask must descend"}
			}
		case acl.AcceptProposal, acl.Cancel:
		default:
			return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "expected cfp, accept-proposal, or cancel"}
		}
	default:
		return &ProtocolError{Protocol: KindDutchAuction, State: string(m.state), Got: msg.Performative, Detail: "auction already closed"}
	}
	return nil
}

func (m *dutchAuction) Process(msg *acl.Message) (Result, error) {
	if err := m.Validate(msg); err != nil {
		return Result{}, err
	}
	switch m.state {
	case auctionIdle:
		amount, _ := parseAmount(msg.Content)
		m.currentAsk = amount
		m.haveAsk = true
		m.state = auctionOpen
		return Result{Outcome: Continue}, nil
	case auctionOpen:
		switch msg.Performative {
		case acl.CFP:
			amount, _ := parseAmount(msg.Content)
			m.currentAsk = amount
			return Result{Outcome: Continue}, nil
		case acl.AcceptProposal:
			m.state = auctionTerminal
			m.winner = msg.Sender
			return Result{Outcome: Complete, Data: m.currentAsk}, nil
		case acl.Cancel:
			m.state = auctionTerminal
			return Result{Outcome: Failed, Reason: "cancelled"}, nil
		}
	}
	return Result{Outcome: Continue}, nil
}

func (m *dutchAuction) IsComplete() bool { return m.state == auctionTerminal }

type dutchAuctionSnapshot struct {
	Role       acl.Role     `json:"role"`
	Reserve    float64      `json:"reserve"`
	State      auctionState `json:"state"`
	CurrentAsk float64      `json:"current_ask"`
	HaveAsk    bool         `json:"have_ask"`
	Winner     string       `json:"winner"`
}

func (m *dutchAuction) SerializeState() ([]byte, error) {
	return marshalState(dutchAuctionSnapshot{
		Role: m.role, Reserve: m.reserve, State: m.state,
		CurrentAsk: m.currentAsk, HaveAsk: m.haveAsk, Winner: m.winner,
	})
}

func (m *dutchAuction) RestoreState(data []byte) error {
	var s dutchAuctionSnapshot
	if err := unmarshalState(data, &s); err != nil {
		return err
	}
	m.role = s.Role
	m.reserve = s.Reserve
	m.state = s.State
	m.currentAsk = s.CurrentAsk
	m.haveAsk = s.HaveAsk
	m.winner = s.Winner
	return nil
}
