package errors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// FormatForUser converts an orchestration failure into a message that can be
// shown to the person driving the session.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var (
		circuitErr   *CircuitOpenError
		queueErr     *QueueFullError
		throttleErr  *ThrottleError
		authErr      *AuthError
		transientErr *TransientError
		permanentErr *PermanentError
	)
	switch {
	case errors.As(err, &circuitErr), errors.As(err, &queueErr):
		return "The assistant is temporarily degraded. Please try again in a moment."
	case errors.As(err, &throttleErr):
		if wait := RetryAfterSeconds(throttleErr.RetryAfter); wait > 0 {
			return fmt.Sprintf("The model provider is rate limiting requests. Please retry in %d seconds.", wait)
		}
		return "The model provider is rate limiting requests. Please retry shortly."
	case errors.As(err, &authErr):
		return "The model provider rejected our credentials. This is a configuration problem."
	case IsValidation(err):
		return "The model returned output that could not be understood. Please rephrase and try again."
	case errors.As(err, &transientErr) && transientErr.Message != "":
		return transientErr.Message
	case errors.As(err, &permanentErr) && permanentErr.Message != "":
		return permanentErr.Message
	}

	switch Classify(err) {
	case ClassRetryable:
		return "The model service is unavailable right now. Please try again later."
	case ClassThrottled:
		return "The model provider is rate limiting requests. Please retry shortly."
	}
	return err.Error()
}

// RetryAfterSeconds rounds d up to whole seconds for Retry-After headers.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
