package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/intent"
	"github.com/vocalis/vocalis/pkg/orchestrator"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/store"
	"github.com/vocalis/vocalis/pkg/toolgateway"
)

type fakeConn struct {
	events chan provider.Event
	once   sync.Once
}

func (c *fakeConn) Send(context.Context, provider.Outbound) error { return nil }
func (c *fakeConn) Events() <-chan provider.Event                 { return c.events }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}
func (c *fakeConn) Err() error { return nil }

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) Connect(context.Context, provider.SessionParams) (provider.Conn, error) {
	return &fakeConn{events: make(chan provider.Event, 8)}, nil
}

type memStore struct {
	mu  sync.Mutex
	cps map[string]*store.Checkpoint
}

func newMemStore() *memStore { return &memStore{cps: make(map[string]*store.Checkpoint)} }

func (m *memStore) Get(_ context.Context, id string) (*store.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cp, nil
}

func (m *memStore) Put(_ context.Context, cp *store.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.SessionID] = cp
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, id)
	return nil
}

func (m *memStore) Close() error { return nil }

const agentsYAML = `
name: Greeter
community: CustomerSupport
opener: true
task: Help the caller.
instructions: Support. {{summary}}
flow:
  initial: Greeting
  states:
    - name: Greeting
      transitions:
        - condition: Done
          target: Farewell
    - name: Farewell
      end: true
`

const salesAgentYAML = `
name: SalesRep
community: Sales
task: Sell.
instructions: Sales. {{summary}}
flow:
  initial: Qualify
  states:
    - name: Qualify
      end: true
`

func newTestManager(t *testing.T, cfg config.SessionsConfig) (*Manager, *memStore) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.yaml"), []byte(agentsYAML), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.yaml"), []byte(salesAgentYAML), 0600))
	defs, err := definition.NewStore(dir)
	require.NoError(t, err)

	checkpoints := newMemStore()
	deps := orchestrator.Deps{
		Provider:    fakeProvider{},
		Definitions: defs,
		Tools:       toolgateway.NewGateway(config.ToolsConfig{}),
		Checkpoints: checkpoints,
		Classifier:  intent.NewKeywordClassifier(),
		Realtime:    config.RealtimeConfig{Model: "gpt-realtime"},
	}

	m := NewManager(context.Background(), deps, cfg)
	t.Cleanup(m.Shutdown)
	return m, checkpoints
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{})

	a, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	b, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Active())
}

func TestManager_ConcurrentCreateYieldsOneSession(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{})

	const callers = 20
	results := make(chan *orchestrator.Orchestrator, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := m.GetOrCreate(context.Background(), "s1")
			if assert.NoError(t, err) {
				results <- o
			}
		}()
	}
	wg.Wait()
	close(results)

	first := <-results
	for o := range results {
		assert.Same(t, first, o, "every caller shares the one orchestrator")
	}
	assert.Equal(t, 1, m.Active())
}

func TestManager_CapacityExceeded(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{MaxActive: 1})

	_, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	_, err = m.GetOrCreate(context.Background(), "s2")
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Closing frees the slot.
	require.NoError(t, m.Close("s1"))
	_, err = m.GetOrCreate(context.Background(), "s2")
	assert.NoError(t, err)
}

func TestManager_ResumesFromCheckpoint(t *testing.T) {
	m, checkpoints := newTestManager(t, config.SessionsConfig{})

	require.NoError(t, checkpoints.Put(context.Background(), &store.Checkpoint{
		SessionID: "s1",
		Agent:     "SalesRep",
		State:     "Qualify",
		History:   []store.Message{{Role: "user", Content: "earlier turn"}},
	}))

	o, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "SalesRep", o.Agent())
}

func TestManager_CloseUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{})
	assert.ErrorIs(t, m.Close("nope"), ErrSessionNotFound)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ReapsFinishedSessions(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{})

	a, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// The finished session no longer counts, and the id can be reused.
	assert.Equal(t, 0, m.Active())
	b, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestManager_RejectsInvalidSessionIDs(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{})

	for _, id := range []string{"", "../escape", "a/b", "a\\b", "nul\x00byte"} {
		_, err := m.GetOrCreate(context.Background(), id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestManager_ShutdownClosesEverything(t *testing.T) {
	m, checkpoints := newTestManager(t, config.SessionsConfig{})

	o1, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "s2")
	require.NoError(t, err)

	m.Shutdown()

	select {
	case <-o1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed by shutdown")
	}
	assert.Equal(t, 0, m.Active())
	assert.NotNil(t, checkpoints.cps["s1"], "shutdown writes final checkpoints")

	_, err = m.GetOrCreate(context.Background(), "s3")
	assert.Error(t, err, "manager refuses sessions after shutdown")
}

func TestSweeper_EvictsIdleSessions(t *testing.T) {
	m, checkpoints := newTestManager(t, config.SessionsConfig{IdleTimeout: time.Nanosecond})
	s, err := NewSweeper(m)
	require.NoError(t, err)

	o, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.Status() == orchestrator.StatusActive },
		2*time.Second, 10*time.Millisecond)

	time.Sleep(5 * time.Millisecond) // pass the idle cutoff
	s.sweep()

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle session not evicted")
	}
	assert.Equal(t, 0, m.Active())
	assert.NotNil(t, checkpoints.cps["s1"], "eviction checkpoints the session")
}

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	m, _ := newTestManager(t, config.SessionsConfig{SweepSchedule: "not a schedule"})
	_, err := NewSweeper(m)
	assert.Error(t, err)
}
