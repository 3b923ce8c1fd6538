package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/errors"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// errorStatus maps a failure to its HTTP status, a short kind label and the
// Retry-After hint in seconds (zero when none applies).
func errorStatus(err error) (int, string, int) {
	var (
		inputErr    *errors.InputError
		circuitErr  *errors.CircuitOpenError
		queueErr    *errors.QueueFullError
		throttleErr *errors.ThrottleError
		authErr     *errors.AuthError
	)
	switch {
	case stderrors.Is(err, ports.ErrSessionNotFound):
		return http.StatusNotFound, "not_found", 0
	case stderrors.As(err, &inputErr):
		return http.StatusBadRequest, "invalid_input", 0
	case stderrors.As(err, &circuitErr):
		return http.StatusServiceUnavailable, "degraded", errors.RetryAfterSeconds(circuitErr.RetryIn)
	case stderrors.As(err, &queueErr):
		return http.StatusServiceUnavailable, "degraded", 0
	case stderrors.As(err, &throttleErr):
		return http.StatusTooManyRequests, "throttled", errors.RetryAfterSeconds(throttleErr.RetryAfter)
	case stderrors.As(err, &authErr):
		return http.StatusInternalServerError, "configuration", 0
	case errors.IsValidation(err):
		return http.StatusBadGateway, "invalid_model_output", 0
	case stderrors.Is(err, context.Canceled):
		return 499, "canceled", 0
	}
	switch errors.Classify(err) {
	case errors.ClassRetryable:
		return http.StatusServiceUnavailable, "unavailable", 0
	case errors.ClassThrottled:
		return http.StatusTooManyRequests, "throttled", errors.RetryAfterSeconds(errors.RetryAfterHint(err))
	}
	return http.StatusInternalServerError, "internal", 0
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, kind, retryAfter := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("HTTP %d %s %s: %v", status, c.Request.Method, c.FullPath(), err)
	} else {
		s.logger.Warn("HTTP %d %s %s: %v", status, c.Request.Method, c.FullPath(), err)
	}
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	_ = c.Error(err)

	message := errors.FormatForUser(err)
	if status == http.StatusNotFound {
		message = "session not found"
	}
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: message, Kind: kind})
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}
