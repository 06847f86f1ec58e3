// Package domainerrors provides coded domain errors, imported as dErrors.
// Services create or wrap errors with a stable code; transport maps codes to
// HTTP statuses without inspecting message text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry policy.
type Code string

const (
	// CodeUnauthenticated: credential missing, invalid, expired, or the
	// referenced user no longer exists.
	CodeUnauthenticated Code = "unauthenticated"
	// CodeForbidden: credential valid, insufficient role or wrong tenant.
	CodeForbidden Code = "forbidden"
	// CodeNotFound: resource absent or not visible to the caller. Absence and
	// invisibility are deliberately merged so existence never leaks across
	// tenants.
	CodeNotFound Code = "not_found"
	// CodeConflict: concurrent modification detected at the storage boundary.
	// Callers may re-fetch and reapply; the service never auto-retries.
	CodeConflict Code = "conflict"
	// CodeInvalidState: operation not legal in the resource's current
	// lifecycle state. Terminal for the request.
	CodeInvalidState Code = "invalid_state"
	// CodeValidation: semantically invalid input payload.
	CodeValidation Code = "validation"
	// CodeBadRequest: malformed request (unparseable body, bad path param).
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput: trust-boundary parse failure (IDs, enums).
	CodeInvalidInput Code = "invalid_input"
	// CodeInvariantViolation: a model constructor or transition guard caught
	// a broken invariant. Services translate these before they reach callers.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable: a collaborator (notification sink, cache) failed.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout: a transaction or collaborator exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal: unexpected failure; details stay out of responses.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Wrapped causes stay reachable via errors.Is
// and errors.As.
type Error struct {
	code    Code
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's classification code.
func (e *Error) Code() Code { return e.code }

// Message returns the human-readable description without the code prefix.
func (e *Error) Message() string { return e.message }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{code: code, message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(cause error, code Code, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so unexpected failures never leak details.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}
