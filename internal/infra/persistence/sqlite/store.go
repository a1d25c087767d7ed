// Package sqlite provides a record store that keeps its working set in memory
// and snapshots it to a SQLite table after every successful write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"repobatch/internal/infra/persistence/memory"
	"repobatch/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "repobatch.db"

// Store persists one entity type to a single row of the shared `state` table,
// keyed by the store name and holding the JSON snapshot of its entities.
type Store[T domain.Entity[K], K comparable] struct {
	*memory.Store[T, K]
	db *sql.DB
	mu sync.Mutex
}

// OpenDB opens (creating if needed) the SQLite database at path and ensures
// the state table exists. Several stores may share the returned handle.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return db, nil
}

// NewStore opens the database at path and hydrates a store named name from it.
func NewStore[T domain.Entity[K], K comparable](ctx context.Context, path, name string) (*Store[T, K], error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	store, err := NewStoreWithDB[T, K](ctx, db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB hydrates a store named name from an already opened database.
func NewStoreWithDB[T domain.Entity[K], K comparable](ctx context.Context, db *sql.DB, name string) (*Store[T, K], error) {
	s := &Store[T, K]{Store: memory.NewStore[T, K](name), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T, K]) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, s.Name()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state %s: %w", s.Name(), err)
	}
	var snapshot memory.Snapshot[T]
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode %s: %w", s.Name(), err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store[T, K]) persist(ctx context.Context) error {
	data, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.Name(), err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, s.Name(), data); err != nil {
		return fmt.Errorf("upsert %s: %w", s.Name(), err)
	}
	return nil
}

// mutate applies fn to the working set and snapshots it. A failed snapshot
// restores the previous working set so memory never runs ahead of disk.
func (s *Store[T, K]) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

// Add implements domain.RecordStore.
func (s *Store[T, K]) Add(ctx context.Context, entity T) error {
	return s.mutate(ctx, func() error { return s.Store.Add(ctx, entity) })
}

// Update implements domain.RecordStore.
func (s *Store[T, K]) Update(ctx context.Context, entity T) error {
	return s.mutate(ctx, func() error { return s.Store.Update(ctx, entity) })
}

// Delete implements domain.RecordStore.
func (s *Store[T, K]) Delete(ctx context.Context, key K) error {
	return s.mutate(ctx, func() error { return s.Store.Delete(ctx, key) })
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store[T, K]) DB() *sql.DB { return s.db }
