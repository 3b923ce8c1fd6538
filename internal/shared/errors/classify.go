package errors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RetryClass decides how the invoker treats a failed attempt.
type RetryClass int

const (
	// ClassNonRetryable fails immediately with no delay.
	ClassNonRetryable RetryClass = iota
	// ClassRetryable backs off as base * 2^attempt.
	ClassRetryable
	// ClassThrottled backs off as base * 3^attempt.
	ClassThrottled
)

func (c RetryClass) String() string {
	switch c {
	case ClassRetryable:
		return "RETRYABLE"
	case ClassThrottled:
		return "THROTTLED"
	default:
		return "NON_RETRYABLE"
	}
}

var statusPattern = regexp.MustCompile(`\b[45]\d{2}\b`)

var (
	throttlePatterns = []string{
		"rate limit",
		"ratelimit",
		"quota",
		"too many requests",
	}
	retryablePatterns = []string{
		"etimedout",
		"timed out",
		"timeout",
		"deadline exceeded",
		"econnreset",
		"connection reset",
		"econnrefused",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"service unavailable",
		"bad gateway",
		"temporarily unavailable",
	}
)

// Classify maps err onto a RetryClass. Typed errors are checked first, then
// HTTP status codes found in the chain or the message, then message patterns.
// Anything unrecognised is non-retryable.
func Classify(err error) RetryClass {
	if err == nil {
		return ClassNonRetryable
	}
	if errors.Is(err, context.Canceled) {
		return ClassNonRetryable
	}

	var (
		throttleErr  *ThrottleError
		timeoutErr   *TimeoutError
		transientErr *TransientError
		authErr      *AuthError
		permanentErr *PermanentError
		circuitErr   *CircuitOpenError
		queueErr     *QueueFullError
		httpErr      *HTTPError
		validation   ValidationError
	)
	switch {
	case errors.As(err, &throttleErr):
		return ClassThrottled
	case errors.As(err, &authErr),
		errors.As(err, &circuitErr),
		errors.As(err, &queueErr),
		errors.As(err, &validation),
		errors.As(err, &permanentErr):
		return ClassNonRetryable
	case errors.As(err, &timeoutErr), errors.As(err, &transientErr):
		return ClassRetryable
	case errors.As(err, &httpErr):
		return classifyStatus(httpErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) || isNetworkError(err) || isSyscallError(err) {
		return ClassRetryable
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return classifyStatus(code)
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return ClassThrottled
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return ClassRetryable
		}
	}
	return ClassNonRetryable
}

// IsTransient reports whether err is worth retrying in any form.
func IsTransient(err error) bool {
	return Classify(err) != ClassNonRetryable
}

// RetryAfterHint returns the provider's Retry-After hint carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var throttleErr *ThrottleError
	if errors.As(err, &throttleErr) && throttleErr.RetryAfter > 0 {
		return throttleErr.RetryAfter
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return 0
}

// CountsAsFailure reports whether err reflects the health of the dependency.
// Caller-caused errors (cancellation, invalid input, malformed output) do not.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || IsValidation(err) {
		return false
	}
	var circuitErr *CircuitOpenError
	var queueErr *QueueFullError
	if errors.As(err, &circuitErr) || errors.As(err, &queueErr) {
		return false
	}
	return true
}

func classifyStatus(code int) RetryClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassThrottled
	case code == http.StatusRequestTimeout:
		return ClassRetryable
	case code >= 500 && code <= 599:
		return ClassRetryable
	default:
		return ClassNonRetryable
	}
}

func extractHTTPStatusCode(err error) int {
	match := statusPattern.FindString(err.Error())
	if match == "" {
		return 0
	}
	code, convErr := strconv.Atoi(match)
	if convErr != nil {
		return 0
	}
	return code
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
