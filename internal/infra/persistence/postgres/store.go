// Package postgres provides a Postgres-backed record store that mirrors the
// in-memory semantics while snapshotting each store's entities to a JSONB row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"repobatch/internal/infra/persistence/memory"
	"repobatch/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/repobatch?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists one entity type to Postgres while reusing the in-memory
// implementation as its working set.
type Store[T domain.Entity[K], K comparable] struct {
	*memory.Store[T, K]
	db *sql.DB
	mu sync.Mutex
}

// OpenDB opens a Postgres handle using dsn (falls back to defaultDSN), pings
// it and ensures the state table exists.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewStore opens Postgres at dsn and hydrates a store named name.
func NewStore[T domain.Entity[K], K comparable](ctx context.Context, dsn, name string) (*Store[T, K], error) {
	db, err := OpenDB(ctx, dsn)
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

// NewStoreWithDB hydrates a store named name from an already opened handle.
func NewStoreWithDB[T domain.Entity[K], K comparable](ctx context.Context, db *sql.DB, name string) (*Store[T, K], error) {
	mem := memory.NewStore[T, K](name)
	snapshot, err := loadSnapshot[T](ctx, db, name)
	if err != nil {
		return nil, err
	}
	mem.ImportState(snapshot)
	return &Store[T, K]{Store: mem, db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot[T any](ctx context.Context, db *sql.DB, name string) (memory.Snapshot[T], error) {
	var snapshot memory.Snapshot[T]
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return snapshot, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, fmt.Errorf("scan state: %w", err)
		}
		if bucket != name || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return snapshot, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store[T, K]) persist(ctx context.Context) error {
	data, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.Name(), err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, s.Name(), data); err != nil {
		return fmt.Errorf("upsert %s: %w", s.Name(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
