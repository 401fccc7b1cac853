package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/observability"
	"github.com/vocalis/vocalis/pkg/orchestrator"
	"github.com/vocalis/vocalis/pkg/store"
)

var (
	// ErrSessionNotFound is returned when the session id is not active.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacityExceeded is returned when the active-session limit is hit.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
)

// Manager owns the active sessions: at most one orchestrator per session id,
// created on demand and resumed from a checkpoint when one exists. Safe for
// concurrent use.
type Manager struct {
	deps orchestrator.Deps
	cfg  config.SessionsConfig

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*orchestrator.Orchestrator
	closed   bool
}

// NewManager builds a session manager. ctx bounds the lifetime of every
// session it creates.
func NewManager(ctx context.Context, deps orchestrator.Deps, cfg config.SessionsConfig) *Manager {
	m := &Manager{
		deps:     deps,
		cfg:      cfg,
		baseCtx:  ctx,
		sessions: make(map[string]*orchestrator.Orchestrator),
	}
	log.Info().Int("max_active", cfg.MaxActive).Dur("idle_timeout", cfg.IdleTimeout).
		Msg("Session manager initialized")
	return m
}

// validateSessionID rejects ids that could escape into paths or log noise.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id too long")
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("session id contains invalid characters")
	}
	return nil
}

// GetOrCreate returns the active orchestrator for the session id, creating
// and starting one when none exists. Concurrent callers with the same id get
// the same orchestrator. A new session resumes from its checkpoint when the
// store has one.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionNotFound
	}

	m.reapLocked()

	if o, ok := m.sessions[sessionID]; ok {
		return o, nil
	}

	if m.cfg.MaxActive > 0 && len(m.sessions) >= m.cfg.MaxActive {
		log.Warn().Str("session_id", sessionID).Int("active", len(m.sessions)).
			Msg("Session rejected, capacity exceeded")
		return nil, ErrCapacityExceeded
	}

	resumed, err := m.deps.Checkpoints.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("session_id", sessionID).
			Msg("Checkpoint lookup failed, starting session fresh")
		resumed = nil
	}

	o := orchestrator.New(sessionID, m.deps, resumed)
	o.Start(m.baseCtx)
	m.sessions[sessionID] = o
	observability.SetActiveSessions(len(m.sessions))

	log.Info().Str("session_id", sessionID).Bool("resumed", resumed != nil).
		Int("active", len(m.sessions)).Msg("Session created")
	return o, nil
}

// Get returns the active orchestrator for the session id.
func (m *Manager) Get(sessionID string) (*orchestrator.Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return o, nil
}

// Close shuts one session down, waiting for its final checkpoint.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	o, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		observability.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return o.Close()
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	return len(m.sessions)
}

// Shutdown closes every active session and stops accepting new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	active := make([]*orchestrator.Orchestrator, 0, len(m.sessions))
	for id, o := range m.sessions {
		active = append(active, o)
		delete(m.sessions, id)
	}
	observability.SetActiveSessions(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range active {
		wg.Add(1)
		go func(o *orchestrator.Orchestrator) {
			defer wg.Done()
			_ = o.Close()
		}(o)
	}
	wg.Wait()

	log.Info().Int("count", len(active)).Msg("Session manager shut down")
}

// reapLocked drops sessions whose run loop has already exited. Their final
// checkpoint was written on the way out. Caller holds m.mu.
func (m *Manager) reapLocked() {
	for id, o := range m.sessions {
		select {
		case <-o.Done():
			delete(m.sessions, id)
		default:
		}
	}
	observability.SetActiveSessions(len(m.sessions))
}
