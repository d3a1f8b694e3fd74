package protocol

import "fmt"

// Error is the typed error surfaced to peers at the protocol boundary,
// grounded on the teacher's client.APIError (internal/client/client.go):
// a stable machine-readable Kind plus a human Message, carried verbatim
// through to the outbound error reply's {kind, message} shape (spec.md §6).
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// The eight stable error kind strings from spec.md §6/§7.
const (
	KindInvalidCommand = "invalid_command"
	KindMissingField   = "missing_field"
	KindUnknownCommand = "unknown_command"
	KindMismatch       = "kind_mismatch"
	KindNotFound       = "not_found"
	KindDuplicate      = "duplicate"
	KindUnauthorized   = "unauthorized"
	KindInternal       = "internal"
)

func errInvalid(msg string) *Error          { return &Error{Kind: KindInvalidCommand, Message: msg} }
func errMissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Message: fmt.Sprintf("missing field %q", field)}
}
func errUnknownCommand(event string) *Error {
	return &Error{Kind: KindUnknownCommand, Message: fmt.Sprintf("unknown event %q", event)}
}
func errKindMismatch(msg string) *Error { return &Error{Kind: KindMismatch, Message: msg} }
func errNotFound(key string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("key %q not found", key)}
}
func errDuplicate(requestID string) *Error {
	return &Error{Kind: KindDuplicate, Message: fmt.Sprintf("request_id %q already processed", requestID)}
}

// Unauthorized builds a public Unauthorized error; used by the session
// layer as well as the processor, so it is exported unlike its siblings.
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

// Internal builds a public internal error; exported for the same reason.
func Internal(msg string) *Error { return &Error{Kind: KindInternal, Message: msg} }
