package protocol

import (
	"strconv"
	"testing"

	"github.com/greenpdx/fipa-wasm/internal/acl"
)

func bidMessage(t *testing.T, sender string, amount float64) *acl.Message {
	t.Helper()
	m, err := acl.New(sender, acl.Propose, []string{"auctioneer"}, []byte(strconv.FormatFloat(amount, 'f', -1, 64)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEnglishAuctionRejectsNonIncreasingBid(t *testing.T) {
	m, _ := NewMachine(KindEnglishAuction, acl.RoleAuctioneer, DefaultConfig(), nil)
	_, _ = m.Process(mustMessage(t, "auctioneer", acl.CFP, []string{"b1", "b2"}))
	if _, err := m.Process(bidMessage(t, "b1", 10)); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(bidMessage(t, "b2", 5)); err == nil {
		t.Fatal("expected lower bid to be rejected")
	}
}

func TestEnglishAuctionFirstArrivalWinsTie(t *testing.T) {
	m, _ := NewMachine(KindEnglishAuction, acl.RoleAuctioneer, DefaultConfig(), nil)
	_, _ = m.Process(mustMessage(t, "auctioneer", acl.CFP, []string{"b1", "b2"}))
	_, _ = m.Process(bidMessage(t, "b1", 10))
	_, _ = m.Process(bidMessage(t, "b2", 10))
	res, err := m.Process(mustMessage(t, "auctioneer", acl.AcceptProposal, []string{"b1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Data != "b1" {
		t.Fatalf("expected first bidder at the tied amount to win, got %v", res.Data)
	}
}

func TestDutchAuctionRejectsAskBelowReserve(t *testing.T) {
	m := newDutchAuction(acl.RoleAuctioneer)
	m.reserve = 5
	ask, _ := acl.New("auctioneer", acl.CFP, []string{"b1"}, []byte("3"))
	if err := m.Validate(ask); err == nil {
		t.Fatal("expected ask below reserve to be rejected")
	}
}

func TestDutchAuctionRejectsRisingAsk(t *testing.T) {
	m := newDutchAuction(acl.RoleAuctioneer)
	open, _ := acl.New("auctioneer", acl.CFP, []string{"b1"}, []byte("100"))
	if _, err := m.Process(open); err != nil {
		t.Fatal(err)
	}
	rise, _ := acl.New("auctioneer", acl.CFP, []string{"b1"}, []byte("150"))
	if err := m.Validate(rise); err == nil {
		t.Fatal("expected rising ask to be rejected")
	}
}

func TestDutchAuctionFirstAcceptWins(t *testing.T) {
	m := newDutchAuction(acl.RoleAuctioneer)
	open, _ := acl.New("auctioneer", acl.CFP, []string{"b1"}, []byte("100"))
	_, _ = m.Process(open)
	accept, _ := acl.New("b1", acl.AcceptProposal, []string{"auctioneer"}, nil)
	res, err := m.Process(accept)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Complete {
		t.Fatalf("expected Complete, got %v", res.Outcome)
	}
	if !m.IsComplete() {
		t.Fatal("expected terminal")
	}
}
