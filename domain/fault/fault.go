// Package fault defines the error taxonomy surfaced by the engine.
// Callers branch on kind with errors.Is and read details with errors.As.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kinds of failure.
var (
	// ErrAdmissionDenied is returned when a window or quota is exhausted.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrAuthentication is returned for malformed, unknown, revoked or expired credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrPermissionDenied is returned when a key lacks the required scope.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when an identity or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned when a counter or persistent store fails.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidInput is returned when operation parameters fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Error carries the kind of a failure plus the detail needed to build a
// user-facing response.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Code is a machine-readable reason (e.g. "key_expired", "minute").
	Code string

	// Message is a human-readable description.
	Message string

	// RetryAfter is the wait before an admission retry can succeed.
	RetryAfter time.Duration

	// ResetAt is when the rejecting window resets.
	ResetAt time.Time

	// QuotaRemaining is the daily quota left at rejection time.
	QuotaRemaining int64

	// Limit is the configured limit that rejected the request.
	Limit int64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind sentinel.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind
}

// RetryAfterSeconds returns RetryAfter as whole seconds, rounded up.
func (e *Error) RetryAfterSeconds() int64 {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Denied builds an AdmissionDenied error.
func Denied(limitKind string, limit int64, retryAfter time.Duration, resetAt time.Time, quotaRemaining int64) *Error {
	return &Error{
		Kind:           ErrAdmissionDenied,
		Code:           limitKind,
		Message:        fmt.Sprintf("%s limit of %d exceeded", limitKind, limit),
		RetryAfter:     retryAfter,
		ResetAt:        resetAt,
		QuotaRemaining: quotaRemaining,
		Limit:          limit,
	}
}

// Authentication builds an AuthenticationFailure error.
func Authentication(code, message string) *Error {
	return &Error{Kind: ErrAuthentication, Code: code, Message: message}
}

// Permission builds a PermissionDenied error for a missing scope.
func Permission(scope string) *Error {
	return &Error{
		Kind:    ErrPermissionDenied,
		Code:    "missing_scope",
		Message: fmt.Sprintf("missing required scope: %s", scope),
	}
}

// NotFound builds a NotFound error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Code:    entity + "_not_found",
		Message: fmt.Sprintf("%s %q not found", entity, id),
	}
}

// Unavailable wraps a store failure.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: ErrStoreUnavailable, Code: "store_unavailable", Message: op, Err: err}
}

// Invalid builds an InvalidInput error for a rejected field.
func Invalid(field, message string) *Error {
	return &Error{Kind: ErrInvalidInput, Code: field, Message: fmt.Sprintf("%s %s", field, message)}
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
