package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded key-value Store backed by BadgerDB.
//
// It fills the gap between MemStore and a shared database: durable across
// restarts with sub-millisecond access, no server to run. Each checkpoint is
// one key ("checkpoint/<sessionID>") holding the JSON-encoded record.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is set.
	Path string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites forces an fsync per write. Enable for production
	// durability; leave off for tests.
	SyncWrites bool
}

// NewBadgerStore opens (creating if needed) a Badger-backed checkpoint store.
// Call Close when done.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(sessionID string) []byte {
	return []byte("checkpoint/" + sessionID)
}

// Get implements Store.
func (b *BadgerStore) Get(_ context.Context, sessionID string) (Checkpoint, error) {
	var cp Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Put implements Store.
func (b *BadgerStore) Put(_ context.Context, cp Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint session id cannot be empty")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(cp.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (b *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
