package acl

// Performative is the speech-act label that fixes a message's illocutionary
// force. The set is closed: hosts and protocol state machines both switch
// exhaustively over it, so new values must be added here first.
type Performative string

const (
	Request         Performative = "request"
	Inform          Performative = "inform"
	QueryIf         Performative = "query-if"
	QueryRef        Performative = "query-ref"
	CFP             Performative = "cfp"
	Propose         Performative = "propose"
	AcceptProposal  Performative = "accept-proposal"
	RejectProposal  Performative = "reject-proposal"
	Agree           Performative = "agree"
	Refuse          Performative = "refuse"
	Failure         Performative = "failure"
	InformDone      Performative = "inform-done"
	InformResult    Performative = "inform-result"
	NotUnderstood   Performative = "not-understood"
	Subscribe       Performative = "subscribe"
	Cancel          Performative = "cancel"
	Confirm         Performative = "confirm"
	Disconfirm      Performative = "disconfirm"
	Propagate       Performative = "propagate"
	Proxy           Performative = "proxy"
	RequestWhen     Performative = "request-when"
	RequestWhenever Performative = "request-whenever"
)

// Valid reports whether p is a recognized performative.
func (p Performative) Valid() bool {
	switch p {
	case Request, Inform, QueryIf, QueryRef, CFP, Propose, AcceptProposal,
		RejectProposal, Agree, Refuse, Failure, InformDone, InformResult,
		NotUnderstood, Subscribe, Cancel, Confirm, Disconfirm, Propagate,
		Proxy, RequestWhen, RequestWhenever:
		return true
	default:
		return false
	}
}

// IsTerminalReply reports whether p is one of the performatives that end a
// request/query-shaped exchange.
func (p Performative) IsTerminalReply() bool {
	switch p {
	case InformDone, InformResult, Inform, Failure, Refuse:
		return true
	default:
		return false
	}
}
