package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"specpilot/internal/shared/utils/id"
)

// AccessLogger writes one structured record per served request. Component
// logs stay on the printf logger; this one exists for machine-read output.
type AccessLogger struct {
	logger *slog.Logger
}

// AccessLogConfig configures the access logger
type AccessLogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// NewAccessLogger creates a structured logger writing to config.Output
// (stdout by default).
func NewAccessLogger(config AccessLogConfig) *AccessLogger {
	level := slog.LevelInfo
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if config.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	return &AccessLogger{logger: slog.New(handler)}
}

// WithContext adds the trace and session ids carried by ctx.
func (l *AccessLogger) WithContext(ctx context.Context) *AccessLogger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args, "trace_id", sc.TraceID().String())
	}
	if sessionID := id.SessionIDFromContext(ctx); sessionID != "" {
		args = append(args, "session_id", sessionID)
	}
	if logID := id.LogIDFromContext(ctx); logID != "" {
		args = append(args, "log_id", logID)
	}
	if len(args) == 0 {
		return l
	}
	return &AccessLogger{logger: l.logger.With(args...)}
}

// Request logs a served request; 5xx responses are logged at error level.
func (l *AccessLogger) Request(ctx context.Context, method, path string, status int, latencyMS int64, args ...any) {
	if l == nil {
		return
	}
	fields := append([]any{"method", method, "path", path, "status", status, "latency_ms", latencyMS}, args...)
	logger := l.WithContext(ctx).logger
	switch {
	case status >= 500:
		logger.Error("request", fields...)
	case status >= 400:
		logger.Warn("request", fields...)
	default:
		logger.Info("request", fields...)
	}
}

// SanitizeAPIKey masks API key for security
func SanitizeAPIKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
