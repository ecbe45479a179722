// Package store provides pluggable checkpoint persistence for flow sessions.
//
// A checkpoint is the durable (state snapshot, pending step, interrupt type)
// tuple written when a session pauses at an interrupt. The engine reads it to
// decide whether to resume mid-graph or start fresh; the store owns all
// writes. Sessions are the partition key: implementations never require
// cross-session locking.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("checkpoint not found")

// SnapshotVersion is the current checkpoint snapshot format version. Stores
// persist it with every record so future state-field additions default-fill
// when older snapshots load.
const SnapshotVersion = 1

// Checkpoint is one session's persisted pause point.
type Checkpoint struct {
	// SessionID identifies the paused session.
	SessionID string `json:"session_id"`

	// State is the full JSON-serializable state snapshot taken when the
	// pending step requested the pause.
	State map[string]any `json:"state"`

	// PendingStep names the step that paused. It re-runs from its
	// beginning on resume.
	PendingStep string `json:"pending_step"`

	// InterruptType identifies which human decision the session awaits.
	// Resume calls must supply a matching type.
	InterruptType string `json:"interrupt_type"`

	// Payload is the material shown to the human approver.
	Payload any `json:"payload,omitempty"`

	// Version is the snapshot format version at write time.
	Version int `json:"version"`

	// CreatedAt orders checkpoints within a session. Overwrites by later
	// pauses carry later timestamps.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists one checkpoint per session.
//
// An in-memory implementation suffices for tests; a durable backend (SQLite,
// MySQL, Badger) is required for resumability across process restarts.
// Implementations must be safe for concurrent use by independent sessions.
type Store interface {
	// Get returns the checkpoint for a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (Checkpoint, error)

	// Put writes or replaces the session's checkpoint.
	Put(ctx context.Context, cp Checkpoint) error

	// Delete removes the session's checkpoint. Deleting a session with no
	// checkpoint is not an error.
	Delete(ctx context.Context, sessionID string) error
}
