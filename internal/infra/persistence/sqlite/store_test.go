package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"repobatch/pkg/domain"
)

type contact struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (c contact) EntityKey() int { return c.ID }

type email struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (e email) EntityKey() string { return e.ID }

func newStore(t *testing.T, path string) *Store[contact, int] {
	t.Helper()
	store, err := NewStore[contact, int](context.Background(), path, "contacts")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.DB().Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := newStore(t, path)
	if err := store.Add(ctx, contact{ID: 1, Name: "Ada"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, contact{ID: 2, Name: "Grace"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Update(ctx, contact{ID: 1, Name: "Ada L."}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Delete(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reloaded := newStore(t, path)
	list, err := reloaded.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Ada L." {
		t.Fatalf("unexpected reloaded state %+v", list)
	}
}

func TestSQLiteStoreErrorsDoNotPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := newStore(t, path)
	if err := store.Add(ctx, contact{ID: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, contact{ID: 1}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := store.Update(ctx, contact{ID: 7}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Delete(ctx, 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteStoresShareDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	contacts, err := NewStoreWithDB[contact, int](ctx, db, "contacts")
	if err != nil {
		t.Fatalf("contacts: %v", err)
	}
	emails, err := NewStoreWithDB[email, string](ctx, db, "emails")
	if err != nil {
		t.Fatalf("emails: %v", err)
	}
	if err := contacts.Add(ctx, contact{ID: 1}); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if err := emails.Add(ctx, email{ID: "e1", Address: "a@example.com"}); err != nil {
		t.Fatalf("add email: %v", err)
	}
	var buckets int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&buckets); err != nil {
		t.Fatalf("count: %v", err)
	}
	if buckets != 2 {
		t.Fatalf("expected one bucket per store, got %d", buckets)
	}
}

func TestSQLiteStoreRestoresWorkingSetWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, filepath.Join(t.TempDir(), "state.db"))
	if err := store.Add(ctx, contact{ID: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `DROP TABLE state`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := store.Add(ctx, contact{ID: 2}); err == nil {
		t.Fatalf("expected persist failure")
	}
	if _, ok, _ := store.Get(ctx, 2); ok {
		t.Fatalf("failed write must not stay in the working set")
	}
	if _, ok, _ := store.Get(ctx, 1); !ok {
		t.Fatalf("earlier writes must survive")
	}
}

func TestSQLiteStoreLoadInvalidJSON(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?)`, "contacts", []byte("{")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewStoreWithDB[contact, int](ctx, db, "contacts"); err == nil {
		t.Fatalf("expected decode error")
	}
}
