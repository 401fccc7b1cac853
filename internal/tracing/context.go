package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for the model turn ID
	TurnIDKey ContextKey = "turn_id"
	// AgentKey is the context key for the active agent name
	AgentKey ContextKey = "agent"
	// SessionIDKey is the context key for the session ID
	SessionIDKey ContextKey = "session_id"
)

// TraceContext holds tracing information for one session event
type TraceContext struct {
	TraceID   string
	TurnID    string
	Agent     string
	SessionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithAgent adds the active agent name to the context
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetAgent retrieves the active agent name from the context
func GetAgent(ctx context.Context) string {
	if agent, ok := ctx.Value(AgentKey).(string); ok {
		return agent
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		Agent:     GetAgent(ctx),
		SessionID: GetSessionID(ctx),
	}
}

// NewSessionContext creates a context for a new session with a fresh trace ID
func NewSessionContext(ctx context.Context, sessionID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithSessionID(ctx, sessionID)
}
