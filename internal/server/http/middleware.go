package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specpilot/internal/invoker"
	"specpilot/internal/observability"
	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/utils/id"
)

// RateLimitMiddleware caps requests per session id, falling back to the
// client IP for routes without one.
func RateLimitMiddleware(limiter *invoker.SlidingWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		decision := limiter.Allow(rateLimitKey(c))
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(max(1, errors.RetryAfterSeconds(decision.RetryAfter))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, APIResponse{
				Success: false,
				Error:   "rate limit exceeded",
				Kind:    "rate_limited",
			})
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if sessionID := strings.TrimSpace(c.Param("id")); sessionID != "" {
		return "session:" + sessionID
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

// ObservabilityMiddleware opens a server span per request and writes one
// access log line when it completes.
func ObservabilityMiddleware(tracer trace.Tracer, access *observability.AccessLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if sessionID := strings.TrimSpace(c.Param("id")); sessionID != "" {
			ctx = id.WithSessionID(ctx, sessionID)
		}

		var span trace.Span
		if tracer != nil {
			ctx, span = observability.StartSpan(ctx, tracer, observability.SpanHTTPServer,
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if span != nil {
			span.SetAttributes(attribute.Int("http.status_code", status))
			if last := c.Errors.Last(); last != nil && status >= http.StatusInternalServerError {
				span.RecordError(last.Err)
				span.SetStatus(codes.Error, last.Err.Error())
			}
			span.End()
		}
		if access != nil {
			access.Request(ctx, c.Request.Method, routeOf(c), status, time.Since(start).Milliseconds(),
				"client_ip", c.ClientIP(),
				"bytes", c.Writer.Size(),
			)
		}
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}
