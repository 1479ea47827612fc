// README: Typed service errors with stable machine-readable codes.
package errs

import "errors"

// Kind groups errors into the categories the HTTP layer maps to status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindPrecondition
	KindConflict
	KindForbidden
	KindUpstream
)

// Error is the error type every service returns for expected failures.
// Code is stable and machine-readable; clients must branch on it, never on
// the message text.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two service errors by code, so errors.Is works across wrapped
// copies of the same sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of e carrying cause, preserving the sentinel identity
// for errors.Is.
func (e *Error) With(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, cause: cause}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Precondition(code, message string) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func Upstream(code, message string) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: message}
}

// KindOf extracts the Kind from any error chain; KindUnknown for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the stable code from any error chain; empty for plain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
