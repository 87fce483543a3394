package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeSubmitted      = "tool_submitted"
	TypeRejected       = "tool_rejected"
	TypeSucceeded      = "tool_ok"
	TypeFailed         = "tool_error"
	TypeCacheHit       = "cache_hit"
	TypeCacheStore     = "cache_store"
	TypeConfigReloaded = "config_reloaded"
	TypeQueueCleared   = "queue_cleared"
)

// Event represents an audit entry for one step of an invocation.
type Event struct {
	// Type describes the event kind.
	Type string
	// Tool is the tool name.
	Tool string
	// RequestID identifies the invocation.
	RequestID string
	// CorrelationID links related events.
	CorrelationID string
	// Code is the error code for failures.
	Code string
	// Reason provides additional context.
	Reason string
	// Duration is the measured execution time when known.
	Duration time.Duration
}

// Logger records audit events.
type Logger interface {
	// Record stores an audit event.
	Record(ctx context.Context, event Event)
}

// StdLogger writes audit events to slog.
type StdLogger struct {
	logger *slog.Logger
}

// New returns a StdLogger.
func New(logger *slog.Logger) *StdLogger {
	if logger == nil {
		return &StdLogger{}
	}
	return &StdLogger{logger: logger.With("component", "audit")}
}

// Record logs an audit event.
func (l *StdLogger) Record(ctx context.Context, event Event) {
	if l == nil || l.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("type", event.Type),
		slog.String("tool", event.Tool),
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", event.CorrelationID))
	}
	if event.Code != "" {
		attrs = append(attrs, slog.String("code", event.Code))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
