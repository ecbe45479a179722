package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file durable Store.
//
// Designed for:
//   - Development with zero setup
//   - Single-process pipelines requiring resumability across restarts
//   - Prototyping before migrating to a shared database
//
// WAL mode is enabled so approval UIs can read pending checkpoints while a
// session writes.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the checkpoint database at path.
// Use ":memory:" for a throwaway in-memory database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			pending_step TEXT NOT NULL,
			interrupt_type TEXT NOT NULL,
			payload TEXT,
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create session_checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_interrupt ON session_checkpoints(interrupt_type)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_interrupt: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Checkpoint, error) {
	if err := s.guard(); err != nil {
		return Checkpoint{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT state, pending_step, interrupt_type, payload, version, created_at
		FROM session_checkpoints WHERE session_id = ?`, sessionID)

	var (
		stateJSON   string
		payloadJSON sql.NullString
		cp          Checkpoint
	)
	cp.SessionID = sessionID
	err := row.Scan(&stateJSON, &cp.PendingStep, &cp.InterruptType, &payloadJSON, &cp.Version, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &cp.Payload); err != nil {
			return Checkpoint{}, fmt.Errorf("failed to decode checkpoint payload: %w", err)
		}
	}
	return cp, nil
}

// Put implements Store. An existing checkpoint for the session is replaced.
func (s *SQLiteStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := s.guard(); err != nil {
		return err
	}
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint session id cannot be empty")
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}
	var payloadJSON []byte
	if cp.Payload != nil {
		payloadJSON, err = json.Marshal(cp.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint payload: %w", err)
		}
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_checkpoints
			(session_id, state, pending_step, interrupt_type, payload, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			pending_step = excluded.pending_step,
			interrupt_type = excluded.interrupt_type,
			payload = excluded.payload,
			version = excluded.version,
			created_at = excluded.created_at`,
		cp.SessionID, string(stateJSON), cp.PendingStep, cp.InterruptType,
		nullableString(payloadJSON), cp.Version, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM session_checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
