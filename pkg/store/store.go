package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/observability"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("session checkpoint not found")

// Store persists session checkpoints. Used at session creation (resume) and
// at hand-off/reconnect/eviction. Safe for concurrent use.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// SQLiteStore keeps checkpoints in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the checkpoint database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("checkpoint database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	// WAL mode for concurrent session writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			state TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			history TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Checkpoint store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Checkpoint, error) {
	start := time.Now()
	defer func() { observability.RecordCheckpoint("get", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT agent, state, summary, history, updated_at FROM checkpoints WHERE session_id = ?`,
		sessionID)

	cp := &Checkpoint{SessionID: sessionID}
	var history string
	var updatedAt int64
	if err := row.Scan(&cp.Agent, &cp.State, &cp.Summary, &history, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(history), &cp.History); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint history for session %s: %w", sessionID, err)
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return cp, nil
}

func (s *SQLiteStore) Put(ctx context.Context, cp *Checkpoint) error {
	start := time.Now()
	defer func() { observability.RecordCheckpoint("put", time.Since(start)) }()

	history, err := json.Marshal(cp.History)
	if err != nil {
		return fmt.Errorf("failed to serialize history: %w", err)
	}

	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, agent, state, summary, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			agent = excluded.agent,
			state = excluded.state,
			summary = excluded.summary,
			history = excluded.history,
			updated_at = excluded.updated_at`,
		cp.SessionID, cp.Agent, cp.State, cp.Summary, string(history), updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	start := time.Now()
	defer func() { observability.RecordCheckpoint("delete", time.Since(start)) }()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
