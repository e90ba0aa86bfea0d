// ABOUTME: Typed error kinds shared by the registries and the RPC boundary.
// ABOUTME: Lets handlers classify failures so the transport can render {kind, message}.

package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure for the RPC boundary.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindInternal       Kind = "internal"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	wrapped error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// InvalidRequest reports malformed input.
func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

// NotFound reports a missing session, decision, or delegation.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Forbidden reports an agent acting outside its session membership.
func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// Internal reports an unexpected handler failure.
func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// errors that carry no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
