package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/intent"
	"github.com/vocalis/vocalis/pkg/orchestrator"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/session"
	"github.com/vocalis/vocalis/pkg/store"
	"github.com/vocalis/vocalis/pkg/toolgateway"
)

type fakeConn struct {
	events chan provider.Event
	sent   chan provider.Outbound
	once   sync.Once
}

func (c *fakeConn) Send(_ context.Context, out provider.Outbound) error {
	c.sent <- out
	return nil
}
func (c *fakeConn) Events() <-chan provider.Event { return c.events }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}
func (c *fakeConn) Err() error { return nil }

type fakeProvider struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Connect(context.Context, provider.SessionParams) (provider.Conn, error) {
	c := &fakeConn{
		events: make(chan provider.Event, 64),
		sent:   make(chan provider.Outbound, 64),
	}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

func (p *fakeProvider) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	var c *fakeConn
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.conns) == 0 {
			return false
		}
		c = p.conns[len(p.conns)-1]
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

type memStore struct {
	mu  sync.Mutex
	cps map[string]*store.Checkpoint
}

func (m *memStore) Get(_ context.Context, id string) (*store.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.cps[id]; ok {
		return cp, nil
	}
	return nil, store.ErrNotFound
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

const greeterYAML = `
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

func newTestServer(t *testing.T, cfg config.GatewayConfig) (*httptest.Server, *Server, *fakeProvider) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.yaml"), []byte(greeterYAML), 0600))
	defs, err := definition.NewStore(dir)
	require.NoError(t, err)

	p := &fakeProvider{}
	manager := session.NewManager(context.Background(), orchestrator.Deps{
		Provider:    p,
		Definitions: defs,
		Tools:       toolgateway.NewGateway(config.ToolsConfig{}),
		Checkpoints: &memStore{cps: make(map[string]*store.Checkpoint)},
		Classifier:  intent.NewKeywordClassifier(),
		Realtime:    config.RealtimeConfig{Model: "gpt-realtime"},
	}, config.SessionsConfig{})
	t.Cleanup(manager.Shutdown)

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.SharedSecret == "" {
		cfg.SharedSecret = "test-secret"
	}
	srv, err := NewServer(cfg, manager)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, p
}

func wsURL(ts *httptest.Server, srv *Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/ws?sessionId=" + sessionID + "&signature=" + srv.auth.Sign(sessionID)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func frameKind(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var kind string
	require.NoError(t, json.Unmarshal(frame["Kind"], &kind))
	return kind
}

func TestServer_RejectsBadSignature(t *testing.T) {
	ts, _, _ := newTestServer(t, config.GatewayConfig{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?sessionId=s1&signature=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RequiresSessionID(t *testing.T) {
	ts, _, _ := newTestServer(t, config.GatewayConfig{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StreamsAudioBothWays(t *testing.T) {
	ts, srv, p := newTestServer(t, config.GatewayConfig{})
	conn := dial(t, wsURL(ts, srv, "s1"))
	pc := p.waitConn(t)

	// Client -> session: telephony audio frame.
	payload := base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":      "AudioData",
		"audioData": map[string]string{"data": payload},
	}))

	select {
	case out := <-pc.sent:
		audio, ok := out.(provider.AudioInput)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, []byte("pcm-bytes"), audio.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("audio never reached the provider")
	}

	// Session -> client: synthesized audio, then an interruption.
	pc.events <- provider.PartialAudioEvent{ResponseID: "r1", Data: []byte("model-audio")}
	frame := readFrame(t, conn)
	require.Equal(t, "AudioData", frameKind(t, frame))
	var audioData struct{ Data string }
	require.NoError(t, json.Unmarshal(frame["AudioData"], &audioData))
	decoded, err := base64.StdEncoding.DecodeString(audioData.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("model-audio"), decoded)

	pc.events <- provider.InterruptionEvent{}
	assert.Equal(t, "StopAudio", frameKind(t, readFrame(t, conn)))
}

func TestServer_ForwardsTranscripts(t *testing.T) {
	ts, srv, p := newTestServer(t, config.GatewayConfig{})
	conn := dial(t, wsURL(ts, srv, "s1"))
	pc := p.waitConn(t)

	pc.events <- provider.TranscriptEvent{Role: "assistant", Text: "How can I help?"}

	frame := readFrame(t, conn)
	require.Equal(t, "Transcript", frameKind(t, frame))
	var tr struct{ Role, Text string }
	require.NoError(t, json.Unmarshal(frame["Transcript"], &tr))
	assert.Equal(t, "assistant", tr.Role)
	assert.Equal(t, "How can I help?", tr.Text)
}

func TestServer_TextFrames(t *testing.T) {
	ts, srv, p := newTestServer(t, config.GatewayConfig{})
	conn := dial(t, wsURL(ts, srv, "s1"))
	pc := p.waitConn(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "TextInput", "text": "hello"}))

	select {
	case out := <-pc.sent:
		text, ok := out.(provider.TextInput)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, "hello", text.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("text never reached the provider")
	}
}

func TestServer_SecondClientConflicts(t *testing.T) {
	ts, srv, p := newTestServer(t, config.GatewayConfig{})
	_ = dial(t, wsURL(ts, srv, "s1"))
	p.waitConn(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, srv, "s1"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_RateLimitsConnections(t *testing.T) {
	ts, srv, _ := newTestServer(t, config.GatewayConfig{MaxConcurrent: 1})
	_ = dial(t, wsURL(ts, srv, "s1"))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, srv, "s2"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	ts, _, _ := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(config.GatewayConfig{Port: 0, SharedSecret: "x"}, nil)
	assert.Error(t, err)

	_, err = NewServer(config.GatewayConfig{Port: 8080}, nil)
	assert.Error(t, err)
}
