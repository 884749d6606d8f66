// Package domain holds the error taxonomy shared by the session, booking and
// gateway layers. Every error carries a user-actionable hint via Action.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Actionable is implemented by errors that can tell the user what to do next.
type Actionable interface {
	Action() string
}

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	Msg string
	Err error
}

func (e AuthenticationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "invalid credentials"
}

func (e AuthenticationError) Unwrap() error { return e.Err }

func (e AuthenticationError) Action() string {
	return "Check your email and password and sign in again."
}

// SessionExpiredError reports an invalid or expired token. It forces logout.
type SessionExpiredError struct {
	Msg string
	Err error
}

func (e SessionExpiredError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "session expired"
}

func (e SessionExpiredError) Unwrap() error { return e.Err }

func (e SessionExpiredError) Action() string {
	return "Your session has ended. Sign in again."
}

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

func (e ValidationError) Action() string {
	return "Correct the highlighted fields and try again."
}

// ValidationErrors is the structured result of validating a form before any
// remote call is made.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Action() string {
	return "Correct the highlighted fields and try again."
}

// Fields maps each invalid field to its message.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, v := range e {
		out[v.Field] = v.Msg
	}
	return out
}

// TransportError reports that the hostel API could not be reached or failed
// server-side. It is retryable by user action only. Ambiguous is set when the
// request may have been processed before the failure was observed.
type TransportError struct {
	Op        string
	Status    int
	Timeout   bool
	Ambiguous bool
	Err       error
}

func (e TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out", e.Op)
	case e.Status != 0:
		return fmt.Sprintf("%s: server responded with status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: service unavailable", e.Op)
	}
}

func (e TransportError) Unwrap() error { return e.Err }

func (e TransportError) Action() string {
	return "The hostel service is unavailable. Try again in a moment."
}

// ConflictError reports a duplicate booking or a seat that is no longer free.
// Not retryable without selecting a room again.
type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

func (e ConflictError) Action() string {
	return "This room can no longer be booked. Choose another room."
}

// MalformedTokenError reports a bearer token whose payload cannot be read.
// It forces a session reset.
type MalformedTokenError struct {
	Err error
}

func (e MalformedTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed token: %v", e.Err)
	}
	return "malformed token"
}

func (e MalformedTokenError) Unwrap() error { return e.Err }

func (e MalformedTokenError) Action() string {
	return "Your saved session is unreadable. Sign in again."
}

// NotFoundError reports a missing remote resource.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

func (e NotFoundError) Action() string {
	return "Contact the hostel office if this keeps happening."
}

// RateLimitError reports that the server throttled the request.
type RateLimitError struct {
	RetryAfter time.Duration
	Msg        string
}

func (e RateLimitError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "too many requests"
}

func (e RateLimitError) Action() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("Too many attempts. Wait %s and try again.", e.RetryAfter.Round(time.Second))
	}
	return "Too many attempts. Wait a moment and try again."
}

// InvalidCodeError reports a rejected or expired one-time code.
type InvalidCodeError struct {
	Msg string
}

func (e InvalidCodeError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "invalid OTP"
}

func (e InvalidCodeError) Action() string {
	return "Check the code in your email, or request a new one."
}

// StateError reports an operation attempted from a state that does not allow
// it. No remote call is issued when it is returned.
type StateError struct {
	Op    string
	State string
	Msg   string
}

func (e StateError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e StateError) Action() string {
	return "Refresh the page to see the current step."
}

func IsAuthentication(err error) bool {
	var target AuthenticationError
	return errors.As(err, &target)
}

func IsSessionExpired(err error) bool {
	var target SessionExpiredError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var single ValidationError
	var set ValidationErrors
	return errors.As(err, &single) || errors.As(err, &set)
}

func IsTransport(err error) bool {
	var target TransportError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsMalformedToken(err error) bool {
	var target MalformedTokenError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsRateLimit(err error) bool {
	var target RateLimitError
	return errors.As(err, &target)
}

func IsInvalidCode(err error) bool {
	var target InvalidCodeError
	return errors.As(err, &target)
}

func IsState(err error) bool {
	var target StateError
	return errors.As(err, &target)
}

// ActionFor returns the user-facing hint for err, or a generic one.
func ActionFor(err error) string {
	var a Actionable
	if errors.As(err, &a) {
		return a.Action()
	}
	return "Something went wrong. Try again."
}
