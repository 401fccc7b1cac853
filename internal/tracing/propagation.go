package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToHandoff carries the trace across an agent hand-off. The trace ID
// and session ID survive; the turn ID is reset because the target agent starts
// a new turn.
func PropagateToHandoff(ctx context.Context, targetAgent string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithTurnID(newCtx, NewTurnID())
	newCtx = WithAgent(newCtx, targetAgent)

	if sessionID := GetSessionID(ctx); sessionID != "" {
		newCtx = WithSessionID(newCtx, sessionID)
	}

	return newCtx
}

// LoggerFromContext returns a logger annotated with whatever tracing fields
// are present in the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	logCtx := base.With()
	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		logCtx = logCtx.Str("turn_id", tc.TurnID)
	}
	if tc.Agent != "" {
		logCtx = logCtx.Str("agent", tc.Agent)
	}
	if tc.SessionID != "" {
		logCtx = logCtx.Str("session_id", tc.SessionID)
	}

	return logCtx.Logger()
}
