package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one structured entry in the audit log. Every failure path and
// every hand-off produces exactly one of these.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"` // "success", "failure", "timeout"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records audit events to a dedicated sink
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		// Default to stderr until InitAuditLogger runs
		auditInst = &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	}
	return auditInst
}

// InitAuditLogger points the global audit logger at a file
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditMu.Lock()
	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	auditMu.Unlock()
	return nil
}

// Record emits an audit event. Never blocks the orchestration path beyond the
// underlying writer.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.session_id", event.SessionID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("session_id", event.SessionID).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordTurnAudit records per-turn telemetry: latency and byte counts.
func RecordTurnAudit(ctx context.Context, sessionID, community string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      "turn",
		SessionID: sessionID,
		Action:    "turn_completed:" + community,
		Status:    "success",
		Metadata:  metadata,
	})
}

// RecordHandoffAudit records a hand-off from one agent to another.
func RecordHandoffAudit(ctx context.Context, sessionID, source, target string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      "handoff",
		SessionID: sessionID,
		Action:    "handoff:" + source + "->" + target,
		Status:    "success",
	})
}

// RecordToolAudit records a tool invocation outcome.
func RecordToolAudit(ctx context.Context, sessionID, toolName, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      "tool",
		SessionID: sessionID,
		Action:    "invoke:" + toolName,
		Status:    status,
		Metadata:  metadata,
	})
}

// RecordFailureAudit records a failure path. One call per failure.
func RecordFailureAudit(ctx context.Context, sessionID, action, kind string) {
	RecordError(kind)
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      "error",
		SessionID: sessionID,
		Action:    action,
		Status:    "failure",
		Metadata:  map[string]interface{}{"kind": kind},
	})
}
