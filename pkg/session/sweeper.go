package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/pkg/orchestrator"
)

const (
	defaultSweepSchedule = "@every 1m"
	defaultIdleTimeout   = 10 * time.Minute
)

// Sweeper periodically evicts idle sessions. Eviction closes the
// orchestrator, which writes the session's final checkpoint; a later
// connection with the same id resumes from it.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweeper builds the idle sweep on the manager's configured schedule.
func NewSweeper(m *Manager) (*Sweeper, error) {
	schedule := m.cfg.SweepSchedule
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	timeout := m.cfg.IdleTimeout
	if timeout <= 0 {
		timeout = defaultIdleTimeout
	}

	s := &Sweeper{
		manager: m,
		cron:    cron.New(),
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Str("schedule", s.manager.cfg.SweepSchedule).Dur("idle_timeout", s.timeout).
		Msg("Idle session sweep started")
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// sweep closes every session idle past the timeout.
func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.timeout)

	s.manager.mu.Lock()
	idle := make(map[string]*orchestrator.Orchestrator)
	for id, o := range s.manager.sessions {
		if o.LastActive().Before(cutoff) {
			idle[id] = o
			delete(s.manager.sessions, id)
		}
	}
	s.manager.reapLocked()
	s.manager.mu.Unlock()

	for id, o := range idle {
		log.Info().Str("session_id", id).Time("last_active", o.LastActive()).
			Msg("Evicting idle session")
		_ = o.Close()
	}
}
