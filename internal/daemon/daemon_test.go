package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/logger"
)

const testAgentYAML = `
name: Greeter
community: CustomerSupport
opener: true
task: Help the caller.
instructions: Support. {{summary}}
flow:
  initial: Greeting
  states:
    - name: Greeting
      end: true
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	base := t.TempDir()
	defsDir := filepath.Join(base, "agents")
	require.NoError(t, os.MkdirAll(defsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(defsDir, "greeter.yaml"), []byte(testAgentYAML), 0600))

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.Definitions.Dir = defsDir
	cfg.Definitions.WatchReload = false
	cfg.Providers = []config.ProviderProfile{{
		ID:       "azure",
		Kind:     "azure_openai",
		Endpoint: "https://example.openai.azure.com",
		APIKey:   "test-key",
	}}
	cfg.Sessions.CheckpointPath = filepath.Join(base, "data", "checkpoints.db")
	cfg.Gateway.Port = 18080
	cfg.Gateway.SharedSecret = "test-secret"
	return cfg
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return l
}

func TestNew_WiresComponents(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = d.checkpoints.Close() }()

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.Agents)
	assert.Equal(t, 0, status.ActiveSessions)
}

func TestNew_FailsWithoutProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = nil

	_, err := New(cfg, newTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider profiles")
}

func TestNew_FailsOnMissingDefinitions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Definitions.Dir = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := New(cfg, newTestLogger(t))
	assert.Error(t, err)
}

func TestReloadDefinitions_KeepsServingOnBadSet(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = d.checkpoints.Close() }()

	before := d.definitions.Current()

	// Break the definition set on disk, then reload.
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Definitions.Dir, "broken.yaml"), []byte("name: [oops"), 0600))
	d.reloadDefinitions()

	assert.Same(t, before, d.definitions.Current(), "rejected reload keeps the active set")
}

func TestStop_IsIdempotentWhenNotRunning(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)

	assert.NoError(t, d.Stop())
}

func TestLifecycle_PIDFile(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = d.checkpoints.Close() }()

	require.NoError(t, d.lifecycle.Start())

	pid, err := d.lifecycle.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// A second start against a live PID is refused.
	err = d.lifecycle.Start()
	assert.Error(t, err)

	require.NoError(t, d.lifecycle.Stop())
	_, err = d.lifecycle.GetPID()
	assert.Error(t, err, "PID file removed on stop")
}

func TestStatus_UptimeWhileRunning(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = d.checkpoints.Close() }()

	d.mu.Lock()
	d.running = true
	d.startTime = time.Now().Add(-time.Minute)
	d.mu.Unlock()

	status := d.Status()
	assert.True(t, status.Running)
	assert.GreaterOrEqual(t, status.Uptime, time.Minute)
}
