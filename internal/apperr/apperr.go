// Package apperr defines the tagged error type shared by the core packages
// and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and logging.
type Kind string

const (
	Validation         Kind = "VALIDATION_ERROR"
	Authentication     Kind = "AUTHENTICATION_ERROR"
	Conflict           Kind = "CONFLICT"
	TokenExpired       Kind = "TOKEN_EXPIRED"
	TokenInvalid       Kind = "TOKEN_INVALID"
	TokenKindMismatch  Kind = "TOKEN_KIND_MISMATCH"
	SessionCompromised Kind = "SESSION_COMPROMISED"
	NotFound           Kind = "NOT_FOUND"
	RateLimited        Kind = "RATE_LIMITED"
	Internal           Kind = "INTERNAL_ERROR"
)

// genericAuthMessage is shared by Authentication and SessionCompromised so
// callers cannot tell a wrong password from a replayed refresh token.
const genericAuthMessage = "invalid credentials"

// Error is an application error carrying its kind, HTTP status and a
// caller-safe message. Cause is never rendered to clients.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Details    []string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind, so package level
// sentinels built with New match every error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// PublicMessage is the message safe to show to an unauthenticated caller.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case Authentication, SessionCompromised:
		return genericAuthMessage
	case Internal:
		return "internal server error"
	}
	return e.Message
}

// New creates an error of the given kind.
func New(kind Kind, message string, details ...string) *Error {
	return &Error{Kind: kind, StatusCode: statusFor(kind), Message: message, Details: details}
}

// Wrap creates an error of the given kind with an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: statusFor(kind), Message: message, Cause: cause}
}

// Internalf wraps an unexpected failure. The formatted text only reaches logs.
func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), cause)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, Internal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

func statusFor(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Authentication, TokenExpired, TokenInvalid, TokenKindMismatch, SessionCompromised:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
