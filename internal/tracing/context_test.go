package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithAgent(ctx, "Greeter")
	ctx = WithSessionID(ctx, "sess-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "turn-1", tc.TurnID)
	assert.Equal(t, "Greeter", tc.Agent)
	assert.Equal(t, "sess-1", tc.SessionID)
}

func TestEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())
	assert.Empty(t, tc.TraceID)
	assert.Empty(t, tc.TurnID)
	assert.Empty(t, tc.Agent)
	assert.Empty(t, tc.SessionID)
}

func TestNewSessionContext(t *testing.T) {
	ctx := NewSessionContext(context.Background(), "sess-9")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, "sess-9", GetSessionID(ctx))
}

func TestPropagateToHandoff(t *testing.T) {
	ctx := NewSessionContext(context.Background(), "sess-1")
	ctx = WithTurnID(ctx, "turn-old")
	ctx = WithAgent(ctx, "Support")

	traceID := GetTraceID(ctx)
	out := PropagateToHandoff(ctx, "Sales")

	assert.Equal(t, traceID, GetTraceID(out), "trace ID survives hand-off")
	assert.Equal(t, "sess-1", GetSessionID(out))
	assert.Equal(t, "Sales", GetAgent(out))
	assert.NotEqual(t, "turn-old", GetTurnID(out), "turn ID resets on hand-off")
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-7")
	ctx = WithSessionID(ctx, "sess-7")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-7"`)
	assert.Contains(t, out, `"session_id":"sess-7"`)
}
