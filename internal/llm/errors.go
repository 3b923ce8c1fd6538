package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	sperrors "specpilot/internal/shared/errors"
	jsonx "specpilot/internal/shared/json"
)

// mapHTTPError converts a non-2xx provider response into the typed error
// taxonomy so the invoker can classify it.
func mapHTTPError(status int, body []byte, headers http.Header) error {
	retryAfter := parseRetryAfter(headerValue(headers, "Retry-After"), time.Now())
	base := &sperrors.HTTPError{StatusCode: status, Body: upstreamMessage(body), RetryAfter: retryAfter}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &sperrors.AuthError{Err: base, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &sperrors.ThrottleError{Err: base, StatusCode: status, RetryAfter: retryAfter}
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return &sperrors.TransientError{Err: base, StatusCode: status}
	default:
		return &sperrors.PermanentError{Err: base, StatusCode: status}
	}
}

// wrapRequestError marks transport failures as transient. Cancellation
// passes through untouched.
func wrapRequestError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &sperrors.TransientError{Err: err}
}

func headerValue(headers http.Header, key string) string {
	if headers == nil {
		return ""
	}
	return strings.TrimSpace(headers.Get(key))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(raw string, now time.Time) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// upstreamMessage prefers the provider's structured error message.
func upstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := jsonx.Unmarshal(body, &payload); err == nil && payload.Error != nil && payload.Error.Message != "" {
		if payload.Error.Type != "" {
			return payload.Error.Type + ": " + payload.Error.Message
		}
		return payload.Error.Message
	}
	return string(body)
}
