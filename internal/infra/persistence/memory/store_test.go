package memory

import (
	"context"
	"errors"
	"testing"

	"repobatch/pkg/domain"
)

type contact struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

func (c contact) EntityKey() int { return c.ID }

func (c contact) Clone() contact {
	c.Tags = append([]string(nil), c.Tags...)
	return c
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore[contact, int]("contacts")
	if store.Name() != "contacts" {
		t.Fatalf("unexpected name %s", store.Name())
	}
	if err := store.Add(ctx, contact{ID: 1, Name: "Ada"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, contact{ID: 1, Name: "Dup"}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	var dup domain.DuplicateKeyError
	if err := store.Add(ctx, contact{ID: 1}); !errors.As(err, &dup) || dup.Store != "contacts" || dup.Key != "1" {
		t.Fatalf("expected typed duplicate error, got %v", err)
	}
	if err := store.Update(ctx, contact{ID: 1, Name: "Ada L."}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := store.Get(ctx, 1)
	if err != nil || !ok || got.Name != "Ada L." {
		t.Fatalf("unexpected get %+v %v %v", got, ok, err)
	}
	if err := store.Update(ctx, contact{ID: 9}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
	if err := store.Delete(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on delete, got %v", err)
	}
	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, 1); ok {
		t.Fatalf("expected entity removed")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestStoreListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore[contact, int]("contacts")
	for _, id := range []int{3, 1, 2} {
		if err := store.Add(ctx, contact{ID: id}); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Add(ctx, contact{ID: 1}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int{3, 2, 1}
	for i, c := range list {
		if c.ID != want[i] {
			t.Fatalf("position %d: expected %d, got %d", i, want[i], c.ID)
		}
	}
}

func TestStoreClonesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	store := NewStore[contact, int]("contacts")
	in := contact{ID: 1, Tags: []string{"a"}}
	if err := store.Add(ctx, in); err != nil {
		t.Fatalf("add: %v", err)
	}
	in.Tags[0] = "mutated"
	got, _, _ := store.Get(ctx, 1)
	if got.Tags[0] != "a" {
		t.Fatalf("store must not alias caller slices")
	}
	got.Tags[0] = "mutated"
	again, _, _ := store.Get(ctx, 1)
	if again.Tags[0] != "a" {
		t.Fatalf("reads must return copies")
	}
}

func TestExportImportState(t *testing.T) {
	ctx := context.Background()
	store := NewStore[contact, int]("contacts")
	_ = store.Add(ctx, contact{ID: 1, Name: "a"})
	_ = store.Add(ctx, contact{ID: 2, Name: "b"})
	snap := store.ExportState()
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap.Entities))
	}

	restored := NewStore[contact, int]("contacts")
	restored.ImportState(Snapshot[contact]{Entities: []contact{{ID: 2, Name: "b"}, {ID: 1, Name: "a"}, {ID: 2, Name: "b2"}}})
	list, _ := restored.List(ctx)
	if len(list) != 2 || list[0].ID != 2 || list[0].Name != "b2" || list[1].ID != 1 {
		t.Fatalf("unexpected imported state %+v", list)
	}
	restored.ImportState(Snapshot[contact]{})
	if restored.Len() != 0 {
		t.Fatalf("import must replace state")
	}
}
