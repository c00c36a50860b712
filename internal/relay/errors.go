package relay

import "errors"

// Relay error taxonomy. All failures cross component boundaries as
// explicit errors; nothing panics across the dispatch loop.
var (
	// ErrAuthenticationFailed - bad credentials on login
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDuplicateIdentity - registration collision on username
	ErrDuplicateIdentity = errors.New("identity already exists")

	// ErrUnauthorized - edit/delete attempted by a non-owner
	ErrUnauthorized = errors.New("requester does not own the message")

	// ErrNotFound - operation on a nonexistent message or identity
	ErrNotFound = errors.New("not found")

	// ErrRecipientOffline - signaling target has no live connection
	ErrRecipientOffline = errors.New("recipient is offline")

	// ErrCallInProgress - a session already exists for the pair
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNoSuchCall - signaling event with no matching session
	ErrNoSuchCall = errors.New("no matching call session")
)

// Error codes carried on wire-level error events.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeDuplicateIdentity    = "duplicate_identity"
	CodeUnauthorized         = "unauthorized"
	CodeNotFound             = "not_found"
	CodeRecipientOffline     = "recipient_offline"
	CodeCallInProgress       = "call_in_progress"
	CodeNoSuchCall           = "no_such_call"
	CodePersistenceFailure   = "persistence_failure"
	CodeBadPayload           = "bad_payload"
)

// ErrorCode maps a relay error to its wire code. Unknown errors are
// reported as persistence failures since those are the only remaining
// internal failure class.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return CodeAuthenticationFailed
	case errors.Is(err, ErrDuplicateIdentity):
		return CodeDuplicateIdentity
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRecipientOffline):
		return CodeRecipientOffline
	case errors.Is(err, ErrCallInProgress):
		return CodeCallInProgress
	case errors.Is(err, ErrNoSuchCall):
		return CodeNoSuchCall
	default:
		return CodePersistenceFailure
	}
}
