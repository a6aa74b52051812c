package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// TracedLogger is a structured logger with automatic trace correlation.
// It wraps slog.Logger and stamps workflow context onto every entry.
type TracedLogger struct {
	logger          *slog.Logger
	workflowID      string
	component       string
	redactSensitive bool
}

// NewTracedLogger creates a logger bound to one workflow and component.
// Sensitive fields are redacted at info level and above.
func NewTracedLogger(handler slog.Handler, workflowID, component string) *TracedLogger {
	return &TracedLogger{
		logger:          slog.New(handler),
		workflowID:      workflowID,
		component:       component,
		redactSensitive: true,
	}
}

// Debug logs at debug level. Debug entries are not redacted.
func (l *TracedLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// Info logs at info level with sensitive-field redaction.
func (l *TracedLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.redactSensitive {
		args = redactSensitiveData(args)
	}
	l.WithContext(ctx).Info(msg, args...)
}

// Warn logs at warn level with sensitive-field redaction.
func (l *TracedLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.redactSensitive {
		args = redactSensitiveData(args)
	}
	l.WithContext(ctx).Warn(msg, args...)
}

// Error logs at error level with sensitive-field redaction.
func (l *TracedLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.redactSensitive {
		args = redactSensitiveData(args)
	}
	l.WithContext(ctx).Error(msg, args...)
}

// WithContext returns a slog.Logger carrying the workflow fields plus
// trace_id/span_id extracted from the OpenTelemetry span in ctx, if any.
func (l *TracedLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.logger.With(
		slog.String("workflow_id", l.workflowID),
		slog.String("component", l.component),
	)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		logger = logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return logger
}

// NewJSONHandler creates a JSON log handler, the production default.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// NewTextHandler creates a human-readable text handler for development.
func NewTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// NewHandler builds a handler from config-level strings.
func NewHandler(w io.Writer, format, level string) slog.Handler {
	if strings.EqualFold(format, "text") {
		return NewTextHandler(w, ParseLevel(level))
	}
	return NewJSONHandler(w, ParseLevel(level))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// sensitiveFields are redacted from log output. Keys are normalized by
// lowercasing and stripping underscores before lookup.
var sensitiveFields = map[string]bool{
	"apikey":     true,
	"secret":     true,
	"secretkey":  true,
	"password":   true,
	"token":      true,
	"credential": true,
	"authheader": true,
	"cookie":     true,
}

// redactSensitiveData replaces the values of sensitive keys with a marker.
func redactSensitiveData(args []any) []any {
	if len(args)%2 != 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 0; i < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			normalized := strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if sensitiveFields[normalized] {
				redacted[i+1] = "[REDACTED]"
			}
		}
	}
	return redacted
}
