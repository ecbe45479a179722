package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests, development, and short-lived
// workflows where durability across restarts is not required.
//
// Checkpoints are isolated through a JSON round-trip on both write and read,
// so callers can never mutate a stored snapshot through a retained reference.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemStore creates an empty in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{checkpoints: make(map[string]Checkpoint)}
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, sessionID string) (Checkpoint, error) {
	m.mu.RLock()
	cp, ok := m.checkpoints[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return copyCheckpoint(cp)
}

// Put implements Store.
func (m *MemStore) Put(_ context.Context, cp Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint session id cannot be empty")
	}
	copied, err := copyCheckpoint(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.checkpoints[cp.SessionID] = copied
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.checkpoints, sessionID)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored checkpoints. Test helper.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints)
}

func copyCheckpoint(cp Checkpoint) (Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var copied Checkpoint
	if err := json.Unmarshal(data, &copied); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return copied, nil
}
