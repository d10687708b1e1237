// Package fault defines the error taxonomy shared by every node subsystem.
//
// Errors are plain values wrapped with fmt.Errorf("...: %w", err) the way
// the rest of this codebase wraps errors, rather than a bespoke exception
// hierarchy. Kind lets callers branch on the taxonomy with errors.Is while
// still getting a human-readable message from the wrapped error.
package fault

import "errors"

// Kind classifies an error into one of the taxonomy entries from the
// platform's error handling design. It is not itself an error; wrap one
// of the sentinel values below with fmt.Errorf to attach context.
type Kind int

const (
	KindUnknown Kind = iota
	KindAgentNotFound
	KindAgentAlreadyExists
	KindProtocolNotAllowed
	KindInvalidMessage
	KindConversationNotFound
	KindMailboxFull
	KindQuotaExceeded
	KindStorageNotFound
	KindPermissionDenied
	KindExecutionTimeout
	KindFuelExhausted
	KindModuleInvalid
	KindSignatureInvalid
	KindHashMismatch
	KindMigrationStale
	KindMigrationAborted
	KindNetworkUnavailable
	KindDeadlineExceeded
	KindConsensusUnavailable
	KindDirectoryStale
)

func (k Kind) String() string {
	switch k {
	case KindAgentNotFound:
		return "AgentNotFound"
	case KindAgentAlreadyExists:
		return "AgentAlreadyExists"
	case KindProtocolNotAllowed:
		return "ProtocolNotAllowed"
	case KindInvalidMessage:
		return "InvalidMessage"
	case KindConversationNotFound:
		return "ConversationNotFound"
	case KindMailboxFull:
		return "MailboxFull"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindStorageNotFound:
		return "StorageNotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindExecutionTimeout:
		return "ExecutionTimeout"
	case KindFuelExhausted:
		return "FuelExhausted"
	case KindModuleInvalid:
		return "ModuleInvalid"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindHashMismatch:
		return "HashMismatch"
	case KindMigrationStale:
		return "MigrationStale"
	case KindMigrationAborted:
		return "MigrationAborted"
	case KindNetworkUnavailable:
		return "NetworkUnavailable"
	case KindDeadlineExceeded:
		return "DeadlineExceeded"
	case KindConsensusUnavailable:
		return "ConsensusUnavailable"
	case KindDirectoryStale:
		return "DirectoryStale"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. Use New to construct one and errors.As
// or Is(err, kind) to inspect it after it has been wrapped.
type Error struct {
	Kind   Kind
	Reason string
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

// Is lets errors.Is(err, fault.New(KindAgentNotFound, "")) match any
// Error of the same Kind regardless of Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from err, walking wrapped errors, returning
// KindUnknown if none of the chain is a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
