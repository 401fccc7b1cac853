package toolgateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/pkg/definition"
)

type stubDispatcher struct {
	delay  time.Duration
	output map[string]interface{}
	err    error
	calls  chan string
}

func (s *stubDispatcher) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if s.calls != nil {
		s.calls <- name
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.output, s.err
}

func (s *stubDispatcher) Stop() error { return nil }

func orderSpec() *definition.ToolSpec {
	return &definition.ToolSpec{
		Name:   "lookup_order",
		Server: "orders",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"order_id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"order_id"},
		},
	}
}

func newTestGateway(d Dispatcher) *Gateway {
	g := NewGateway(config.ToolsConfig{InvokeTimeout: time.Second})
	g.RegisterServer("orders", d)
	return g
}

func TestInvoke_Succeeds(t *testing.T) {
	g := newTestGateway(&stubDispatcher{output: map[string]interface{}{"status": "shipped"}})

	result := g.Invoke(context.Background(), ToolCall{
		ID: "c1", Name: "lookup_order",
		Arguments: map[string]interface{}{"order_id": "42"},
	}, orderSpec())

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "c1", result.CallID)
	assert.JSONEq(t, `{"status":"shipped"}`, result.Payload())
}

func TestInvoke_DeadlineYieldsTimedOut(t *testing.T) {
	g := newTestGateway(&stubDispatcher{delay: 5 * time.Second})

	start := time.Now()
	result := g.Invoke(context.Background(), ToolCall{
		ID: "c1", Name: "lookup_order",
		Arguments: map[string]interface{}{"order_id": "42"},
		Deadline:  100 * time.Millisecond,
	}, orderSpec())

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Less(t, time.Since(start), time.Second, "timeout resolves at the deadline, not the call duration")
	assert.JSONEq(t, `{"error":{"kind":"timed_out","message":"tool \"lookup_order\" did not complete within 100ms"}}`, result.Payload())
}

func TestInvoke_DispatchFailureSurfacesAsToolError(t *testing.T) {
	g := newTestGateway(&stubDispatcher{err: errors.New("orders backend unavailable")})

	result := g.Invoke(context.Background(), ToolCall{
		ID: "c1", Name: "lookup_order",
		Arguments: map[string]interface{}{"order_id": "42"},
	}, orderSpec())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "orders backend unavailable")
}

func TestInvoke_RejectsInvalidArguments(t *testing.T) {
	calls := make(chan string, 1)
	g := newTestGateway(&stubDispatcher{calls: calls})

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing required field", map[string]interface{}{}},
		{"wrong type", map[string]interface{}{"order_id": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := g.Invoke(context.Background(), ToolCall{
				ID: "c1", Name: "lookup_order", Arguments: tt.args,
			}, orderSpec())

			assert.Equal(t, StatusFailed, result.Status)
			assert.Contains(t, result.Error, "lookup_order")
			select {
			case name := <-calls:
				t.Fatalf("invalid arguments must not be dispatched, got call to %s", name)
			default:
			}
		})
	}
}

func TestInvoke_UndeclaredToolAndUnknownServer(t *testing.T) {
	g := newTestGateway(&stubDispatcher{})

	result := g.Invoke(context.Background(), ToolCall{ID: "c1", Name: "ghost"}, nil)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "not declared")

	result = g.Invoke(context.Background(), ToolCall{ID: "c2", Name: "lookup_order"},
		&definition.ToolSpec{Name: "lookup_order", Server: "missing"})
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "not configured")
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments(`{"order_id":"42"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"order_id": "42"}, args)

	args, err = ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = ParseArguments("{broken")
	assert.Error(t, err)
}
