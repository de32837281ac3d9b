package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and reporting.
type Kind int

const (
	Validation Kind = iota + 1
	NotFound
	Forbidden
	NotAMember
	Conflict
	ExpiredWindow
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case NotAMember:
		return "not_a_member"
	case Conflict:
		return "conflict"
	case ExpiredWindow:
		return "expired_window"
	case Upstream:
		return "upstream_unavailable"
	default:
		return "unknown"
	}
}

// Codes refine a Kind for callers that need to tell cases apart.
const (
	CodePayload           = "payload"
	CodeRecipientNotFound = "recipient_not_found"
	CodeBlocked           = "blocked"
	CodeMessageNotFound   = "message_not_found"
	CodeGroupNotFound     = "group_not_found"
	CodeSessionNotFound   = "session_not_found"
	CodeNotOwner          = "not_owner"
	CodeNotParticipant    = "not_participant"
	CodeIdentityMismatch  = "identity_mismatch"
	CodeUnregistered      = "unregistered"
	CodeSessionBound      = "session_bound"
	CodeNotAdmin          = "not_admin"
	CodeUserNotFound      = "user_not_found"
)

// Error is the error type returned by the coordinator components.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Code != "" {
		s += "/" + e.Code
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may re-issue the same request unchanged.
func (e *Error) Retryable() bool { return e.Kind == Upstream }

// New builds an Error of the given kind.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap marks err as an infrastructure failure of the named operation.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: Upstream, Msg: op, Err: err}
}

// KindOf returns the Kind carried by err, or zero if err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the Code carried by err, or "".
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Convenience constructors for the cases named in the protocol.

func Payload(format string, args ...any) *Error {
	return New(Validation, CodePayload, format, args...)
}

func RecipientNotFound(id string) *Error {
	return New(NotFound, CodeRecipientNotFound, "recipient %q does not exist", id)
}

func Blocked() *Error {
	return New(Forbidden, CodeBlocked, "messaging between these users is blocked")
}

func MessageNotFound(id string) *Error {
	return New(NotFound, CodeMessageNotFound, "message %q not found", id)
}

func GroupNotFound(id string) *Error {
	return New(NotFound, CodeGroupNotFound, "group %q not found", id)
}

func NotMember(user, group string) *Error {
	return New(NotAMember, "", "user %q is not a member of group %q", user, group)
}

func Expired(op string) *Error {
	return New(ExpiredWindow, "", "%s is only allowed within the edit window", op)
}
