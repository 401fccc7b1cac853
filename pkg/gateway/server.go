package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/observability"
	"github.com/vocalis/vocalis/pkg/orchestrator"
	"github.com/vocalis/vocalis/pkg/session"
)

const (
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxInboundFrame  = 1 << 20 // 1 MiB
	shutdownDeadline = 15 * time.Second
)

// Server is the client-facing websocket gateway. Each connection binds to one
// session; audio and text frames stream in, synthesized audio and control
// frames stream out.
type Server struct {
	cfg      config.GatewayConfig
	sessions *session.Manager
	auth     *AuthHandler
	limiter  *ConnectionLimiter
	upgrader websocket.Upgrader
	server   *http.Server
	logger   zerolog.Logger

	mu       sync.Mutex
	attached map[string]string // session id -> connection id
}

// NewServer builds the gateway over the session manager.
func NewServer(cfg config.GatewayConfig, sessions *session.Manager) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		auth:     NewAuthHandler(cfg.SharedSecret),
		limiter:  NewConnectionLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   log.With().Str("component", "gateway").Logger(),
		attached: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Gateway listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains the active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","active_sessions":%d}`, s.sessions.Active())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	signature := r.URL.Query().Get("signature")

	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if !s.auth.VerifySignature(sessionID, signature) {
		s.logger.Warn().Str("session_id", sessionID).Str("remote", r.RemoteAddr).
			Msg("Connection rejected, bad signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if ok, reason := s.limiter.Admit(); !ok {
		s.logger.Warn().Str("session_id", sessionID).Str("reason", reason).
			Msg("Connection rejected, rate limited")
		http.Error(w, reason, http.StatusTooManyRequests)
		return
	}
	defer s.limiter.Release()

	connID, _ := gonanoid.New()
	if !s.attach(sessionID, connID) {
		http.Error(w, "session already has a connected client", http.StatusConflict)
		return
	}
	defer s.detach(sessionID, connID)

	orch, err := s.sessions.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrCapacityExceeded) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	logger := s.logger.With().Str("session_id", sessionID).Str("conn_id", connID).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	done := make(chan struct{})
	stop := make(chan struct{})
	go s.writePump(conn, orch, logger, done, stop)
	s.readPump(conn, orch, logger)

	close(stop)
	_ = conn.Close()
	<-done
	logger.Info().Msg("Client disconnected")
}

// attach claims the session for one connection; a session streams to at most
// one client at a time.
func (s *Server) attach(sessionID, connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.attached[sessionID]; taken {
		return false
	}
	s.attached[sessionID] = connID
	return true
}

func (s *Server) detach(sessionID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached[sessionID] == connID {
		delete(s.attached, sessionID)
	}
}

// readPump forwards client frames into the session until the socket closes.
// A client disconnect does not close the session: the caller may reconnect
// and resume until the idle sweep evicts it.
func (s *Server) readPump(conn *websocket.Conn, orch *orchestrator.Orchestrator, logger zerolog.Logger) {
	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Client read failed")
			}
			return
		}

		frame, err := decodeInbound(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping malformed client frame")
			continue
		}

		switch frame.Type {
		case "AudioData":
			audio, err := frame.audioBytes()
			if err != nil {
				logger.Warn().Err(err).Msg("Dropping bad audio frame")
				continue
			}
			if err := orch.SendAudio(audio); err != nil {
				logger.Info().Err(err).Msg("Session no longer accepts input")
				return
			}
		case "TextInput":
			if frame.Text == "" {
				continue
			}
			if err := orch.SendText(frame.Text); err != nil {
				logger.Info().Err(err).Msg("Session no longer accepts input")
				return
			}
		default:
			logger.Warn().Str("type", frame.Type).Msg("Unknown client frame type")
		}
	}
}

// writePump streams session events to the client. It is the connection's
// only writer.
func (s *Server) writePump(conn *websocket.Conn, orch *orchestrator.Orchestrator, logger zerolog.Logger, done, stop chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(frame outboundFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("Client write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-stop:
			return

		case ev, ok := <-orch.Events():
			if !ok {
				// Session ended while this client was attached.
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				_ = conn.Close()
				return
			}
			var frame outboundFrame
			switch ev := ev.(type) {
			case orchestrator.AudioChunkEvent:
				frame = audioFrame(ev.Data)
			case orchestrator.StopPlaybackEvent:
				frame = stopAudioFrame()
			case orchestrator.TranscriptUpdateEvent:
				frame = transcriptFrame(ev.Role, ev.Text)
			case orchestrator.HandoffEvent:
				frame = handoffFrame(ev.SourceAgent, ev.TargetAgent)
			case orchestrator.ClosedEvent:
				continue // the channel close that follows handles teardown
			default:
				continue
			}
			if !write(frame) {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
