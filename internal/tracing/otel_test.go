package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInit_RecordsSampledSpans(t *testing.T) {
	require.NoError(t, Init(Options{ServiceName: "vocalisd", Version: "0.1.0", SampleRatio: 1}))
	defer func() {
		require.NoError(t, Shutdown(context.Background()))
	}()

	ctx, span := StartSpan(context.Background(), "turn.complete",
		attribute.String("agent.name", "Greeter"))
	defer span.End()

	sc := span.SpanContext()
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsSampled())
	assert.Equal(t, sc.TraceID().String(), GetTraceID(ctx))
}

func TestInit_SecondCallKeepsFirstProvider(t *testing.T) {
	require.NoError(t, Init(Options{ServiceName: "vocalisd", SampleRatio: 1}))
	defer func() {
		require.NoError(t, Shutdown(context.Background()))
	}()

	// Ratio 0 would stop sampling if this call replaced the provider.
	require.NoError(t, Init(Options{ServiceName: "other", SampleRatio: 0}))

	_, span := StartSpan(context.Background(), "turn.complete")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
}

func TestStartSpan_ChildStaysInParentTrace(t *testing.T) {
	require.NoError(t, Init(Options{ServiceName: "vocalisd", SampleRatio: 1}))
	defer func() {
		require.NoError(t, Shutdown(context.Background()))
	}()

	ctx, parent := StartSpan(context.Background(), "session.handoff")
	defer parent.End()

	childCtx, child := StartSpan(ctx, "tool.invoke")
	defer child.End()

	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().TraceID().String(), GetTraceID(childCtx))
}
