package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &Checkpoint{
		SessionID: "sess-1",
		Agent:     "Greeter",
		State:     "Greeting",
		Summary:   "Caller asked about an order.",
		History: []Message{
			{Role: "user", Content: "hi", Timestamp: time.Now().UTC().Truncate(time.Second)},
			{Role: "assistant", Content: "Hello, how can I help?", Timestamp: time.Now().UTC().Truncate(time.Second)},
			{Role: "tool", Content: `{"status":"shipped"}`, Timestamp: time.Now().UTC().Truncate(time.Second),
				ToolCall: &ToolCallRecord{ID: "c1", Name: "lookup_order", Status: "succeeded"}},
		},
	}
	require.NoError(t, s.Put(ctx, cp))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Greeter", got.Agent)
	assert.Equal(t, "Greeting", got.State)
	assert.Equal(t, cp.History, got.History)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Checkpoint{SessionID: "sess-1", Agent: "Greeter", State: "Greeting"}))
	require.NoError(t, s.Put(ctx, &Checkpoint{SessionID: "sess-1", Agent: "SalesRep", State: "Qualify",
		History: []Message{{Role: "user", Content: "I want to buy"}}}))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "SalesRep", got.Agent)
	assert.Equal(t, "Qualify", got.State)
	require.Len(t, got.History, 1)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Checkpoint{SessionID: "sess-1", Agent: "Greeter", State: "Greeting"}))
	require.NoError(t, s.Delete(ctx, "sess-1"))

	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing checkpoint is not an error.
	assert.NoError(t, s.Delete(ctx, "sess-1"))
}
