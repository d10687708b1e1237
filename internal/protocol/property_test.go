package protocol

import (
	"testing"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"pgregory.net/rapid"
)

// allKinds enumerates every protocol family so the property tests below
// exercise the whole closed set, not just one representative.
var allKinds = []Kind{
	KindRequest, KindQuery, KindContractNet, KindIteratedContractNet,
	KindSubscribe, KindPropose, KindEnglishAuction, KindDutchAuction,
	KindBrokering, KindRecruiting,
}

// performativesFor returns a plausible, protocol-appropriate performative
// sequence generator so the property tests feed each machine inputs it
// can actually make progress on rather than generating from the full
// performative space and mostly hitting rejections.
func performativesFor(kind Kind) []acl.Performative {
	switch kind {
	case KindRequest:
		return []acl.Performative{acl.Request, acl.Agree, acl.Refuse, acl.InformDone, acl.Failure}
	case KindQuery:
		return []acl.Performative{acl.QueryIf, acl.QueryRef, acl.Agree, acl.InformResult, acl.Failure}
	case KindContractNet, KindIteratedContractNet:
		return []acl.Performative{acl.CFP, acl.Propose, acl.Refuse, acl.AcceptProposal, acl.RejectProposal}
	case KindSubscribe:
		return []acl.Performative{acl.Subscribe, acl.Inform, acl.Cancel, acl.Failure}
	case KindPropose:
		return []acl.Performative{acl.Propose, acl.AcceptProposal, acl.RejectProposal}
	case KindEnglishAuction:
		return []acl.Performative{acl.CFP, acl.Propose, acl.AcceptProposal, acl.Cancel}
	case KindDutchAuction:
		return []acl.Performative{acl.CFP, acl.AcceptProposal, acl.Cancel}
	case KindBrokering, KindRecruiting:
		return []acl.Performative{acl.Proxy, acl.Request, acl.InformResult, acl.Failure}
	}
	return nil
}

// TestIsCompleteIsMonotonic drives every machine kind with a randomized
// sequence of protocol-plausible performatives and checks the
// monotonicity invariant from the testable-properties section: once
// IsComplete reports true, it must never report false afterward, and
// Validate/Process must reject every further message.
func TestIsCompleteIsMonotonic(t *testing.T) {
	for _, kind := range allKinds {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				participants := []string{"p1", "p2"}
				m, err := NewMachine(kind, acl.RoleInitiator, DefaultConfig(), participants)
				if err != nil {
					rt.Fatal(err)
				}
				perfs := performativesFor(kind)
				wentComplete := false
				steps := rapid.IntRange(1, 12).Draw(rt, "steps")
				for i := 0; i < steps; i++ {
					sender := rapid.SampledFrom(participants).Draw(rt, "sender")
					perf := rapid.SampledFrom(perfs).Draw(rt, "perf")
					content := []byte(rapid.StringMatching(`[0-9]{1,3}`).Draw(rt, "content"))
					msg, err := acl.New(sender, perf, []string{"other"}, content)
					if err != nil {
						rt.Fatal(err)
					}

					wasComplete := m.IsComplete()
					_, procErr := m.Process(msg)
					nowComplete := m.IsComplete()

					if wasComplete && !nowComplete {
						rt.Fatalf("IsComplete flipped from true to false for kind %s", kind)
					}
					if wasComplete && procErr == nil {
						rt.Fatalf("terminal machine accepted a further message for kind %s", kind)
					}
					if nowComplete {
						wentComplete = true
					}
				}
				_ = wentComplete
			})
		})
	}
}

// TestSerializeRestoreRoundTrip checks that a machine driven to an
// arbitrary reachable state serializes and restores to a state with
// identical IsComplete()/ProtocolType() observable behavior.
func TestSerializeRestoreRoundTrip(t *testing.T) {
	for _, kind := range allKinds {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				participants := []string{"p1", "p2"}
				m, err := NewMachine(kind, acl.RoleInitiator, DefaultConfig(), participants)
				if err != nil {
					rt.Fatal(err)
				}
				perfs := performativesFor(kind)
				steps := rapid.IntRange(0, 6).Draw(rt, "steps")
				for i := 0; i < steps; i++ {
					if m.IsComplete() {
						break
					}
					sender := rapid.SampledFrom(participants).Draw(rt, "sender")
					perf := rapid.SampledFrom(perfs).Draw(rt, "perf")
					content := []byte(rapid.StringMatching(`[0-9]{1,3}`).Draw(rt, "content"))
					msg, err := acl.New(sender, perf, []string{"other"}, content)
					if err != nil {
						rt.Fatal(err)
					}
					_, _ = m.Process(msg)
				}

				data, err := m.SerializeState()
				if err != nil {
					rt.Fatalf("SerializeState: %v", err)
				}
				restored, err := NewMachine(kind, acl.RoleInitiator, DefaultConfig(), participants)
				if err != nil {
					rt.Fatal(err)
				}
				if err := restored.RestoreState(data); err != nil {
					rt.Fatalf("RestoreState: %v", err)
				}
				if restored.ProtocolType() != m.ProtocolType() {
					rt.Fatalf("ProtocolType diverged after restore: %v vs %v", restored.ProtocolType(), m.ProtocolType())
				}
				if restored.IsComplete() != m.IsComplete() {
					rt.Fatalf("IsComplete diverged after restore for kind %s", kind)
				}
			})
		})
	}
}
