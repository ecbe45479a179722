package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB Store for production pipelines:
//   - Sessions survive process restarts
//   - Multiple coordinating processes can each own disjoint sessions
//   - Paused checkpoints double as an audit trail for approval surfaces
//
// Sessions remain the partition key; rows never contend across sessions.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed checkpoint store.
//
// The DSN format is the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/pipelines?parseTime=true
//
// parseTime=true is required so created_at scans into time.Time. Never
// hardcode credentials; read the DSN from the environment.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			session_id VARCHAR(191) PRIMARY KEY,
			state LONGTEXT NOT NULL,
			pending_step VARCHAR(191) NOT NULL,
			interrupt_type VARCHAR(191) NOT NULL,
			payload LONGTEXT,
			version INT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_checkpoints_interrupt (interrupt_type)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create session_checkpoints table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, sessionID string) (Checkpoint, error) {
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
func (s *MySQLStore) Put(ctx context.Context, cp Checkpoint) error {
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
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			pending_step = VALUES(pending_step),
			interrupt_type = VALUES(interrupt_type),
			payload = VALUES(payload),
			version = VALUES(version),
			created_at = VALUES(created_at)`,
		cp.SessionID, string(stateJSON), cp.PendingStep, cp.InterruptType,
		nullableString(payloadJSON), cp.Version, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *MySQLStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM session_checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *MySQLStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
