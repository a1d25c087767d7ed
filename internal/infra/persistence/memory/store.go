// Package memory provides an in-memory record store used for tests,
// ephemeral environments and as the working set of the snapshotting SQL
// stores.
package memory

import (
	"context"
	"sync"

	"repobatch/pkg/domain"
)

// Snapshot captures a point-in-time clone of one store's entities in
// insertion order.
type Snapshot[T any] struct {
	Entities []T `json:"entities"`
}

// Store is a process-local record store keyed by entity identity. Entities are
// copied on the way in and out (deep-copied when they implement
// domain.Cloner), so callers never alias stored state.
type Store[T domain.Entity[K], K comparable] struct {
	mu    sync.RWMutex
	name  string
	order []K
	items map[K]T
}

// Compile-time contract assertion.
var _ domain.RecordStore[stringEntity, string] = (*Store[stringEntity, string])(nil)

type stringEntity string

func (s stringEntity) EntityKey() string { return string(s) }

// NewStore constructs an empty store identified by name.
func NewStore[T domain.Entity[K], K comparable](name string) *Store[T, K] {
	return &Store[T, K]{name: name, items: make(map[K]T)}
}

// Name implements domain.RecordStore.
func (s *Store[T, K]) Name() string { return s.name }

// Get returns a copy of the entity stored under key.
func (s *Store[T, K]) Get(_ context.Context, key K) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok {
		var zero T
		return zero, false, nil
	}
	return domain.CloneEntity(e), true, nil
}

// List returns copies of all entities in insertion order.
func (s *Store[T, K]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, domain.CloneEntity(s.items[k]))
	}
	return out, nil
}

// Len returns the number of stored entities.
func (s *Store[T, K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Add inserts entity, failing when its key already exists.
func (s *Store[T, K]) Add(_ context.Context, entity T) error {
	key := entity.EntityKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return domain.NewDuplicateKey(s.name, key)
	}
	s.items[key] = domain.CloneEntity(entity)
	s.order = append(s.order, key)
	return nil
}

// Update replaces the entity stored under entity's key.
func (s *Store[T, K]) Update(_ context.Context, entity T) error {
	key := entity.EntityKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists {
		return domain.NewNotFound(s.name, key)
	}
	s.items[key] = domain.CloneEntity(entity)
	return nil
}

// Delete removes the entity stored under key.
func (s *Store[T, K]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists {
		return domain.NewNotFound(s.name, key)
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ExportState clones the current store state for external persistence.
func (s *Store[T, K]) ExportState() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot[T]{Entities: make([]T, 0, len(s.order))}
	for _, k := range s.order {
		snap.Entities = append(snap.Entities, domain.CloneEntity(s.items[k]))
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot. When the
// snapshot repeats a key the last entity wins and keeps the first position.
func (s *Store[T, K]) ImportState(snapshot Snapshot[T]) {
	items := make(map[K]T, len(snapshot.Entities))
	order := make([]K, 0, len(snapshot.Entities))
	for _, e := range snapshot.Entities {
		key := e.EntityKey()
		if _, seen := items[key]; !seen {
			order = append(order, key)
		}
		items[key] = domain.CloneEntity(e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.order = order
}
