package audit

import (
	"context"
	"log/slog"
)

// Logger records audit events.
type Logger interface {
	Log(ctx context.Context, event *Event)
}

// SlogLogger writes audit events as structured log lines.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a Logger over the given slog logger. A nil
// logger uses the default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log emits the event at info level, or warn when the call failed.
func (l *SlogLogger) Log(ctx context.Context, event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"request_id", event.RequestID,
		"operation", event.Operation,
		"session_id", event.SessionID,
		"method", event.Method,
		"path", event.Path,
		"status", event.Status,
		"retried", event.Retried,
		"duration_ms", event.DurationMS,
	}
	if event.Parameters != nil {
		attrs = append(attrs, "parameters", event.Parameters)
	}
	if event.Success {
		l.logger.InfoContext(ctx, "relay audit", attrs...)
		return
	}
	attrs = append(attrs, "error", event.Error)
	l.logger.WarnContext(ctx, "relay audit", attrs...)
}

var _ Logger = (*SlogLogger)(nil)
