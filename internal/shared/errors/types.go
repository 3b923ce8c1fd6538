package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransientError represents a dependency failure that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // user-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when one attempt exceeds its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("attempt timed out after %v", e.After)
	}
	return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
}

// Timeout lets TimeoutError satisfy net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// AuthError is a credential or permission failure. It is never retried.
type AuthError struct {
	Err        error
	StatusCode int
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ThrottleError is a provider rate-limit or quota rejection.
type ThrottleError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration // provider hint, zero when absent
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %v): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *ThrottleError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is returned without calling the dependency while its breaker is open.
type CircuitOpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s (retry in %v)", e.Name, e.RetryIn.Round(time.Millisecond))
}

// QueueFullError is returned when the invoker pool cannot queue another task.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("invoker queue full (capacity %d)", e.Capacity)
}

// HTTPError carries a non-2xx response from a provider transport.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

// ValidationError is implemented by errors caused by malformed model output
// or invalid caller input. They are never retried by the generic retry path
// and never count against a circuit breaker.
type ValidationError interface {
	error
	ValidationFailures() []string
}

// InputError rejects a caller-supplied value.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Message)
}

// ValidationFailures implements ValidationError.
func (e *InputError) ValidationFailures() []string {
	return []string{e.Error()}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var verr ValidationError
	return errors.As(err, &verr)
}

// Helper constructors

// NewTransientError creates a new transient error with a user-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a new permanent error with a user-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewInputError rejects field with message.
func NewInputError(field, message string) *InputError {
	return &InputError{Field: field, Message: message}
}
