// Package repository provides the per-entity repository facade and the
// ambient transaction scope that batches writes across repositories.
//
// Writes issued with a context carrying an active Scope are staged in a
// per-store Batch and only reach the store when the outermost scope ends
// after Complete. Reads always hit the store's committed state.
//
//	ctx, scope := repository.BeginScope(ctx)
//	defer scope.End(ctx)
//	_ = contacts.Add(ctx, contact)
//	_ = emails.Add(ctx, email)
//	_ = scope.Complete()
package repository

import (
	"context"
	"fmt"

	"repobatch/pkg/domain"
)

// Repository is the CRUD facade for one entity type over a record store.
type Repository[T domain.Entity[K], K comparable] struct {
	store    domain.RecordStore[T, K]
	settings settings
}

// New constructs a repository over store. The store value doubles as the
// scope enlistment key, so it must be comparable (pointer-backed stores are).
func New[T domain.Entity[K], K comparable](store domain.RecordStore[T, K], opts ...Option) *Repository[T, K] {
	return &Repository[T, K]{store: store, settings: newSettings(opts)}
}

// Store returns the underlying record store.
func (r *Repository[T, K]) Store() domain.RecordStore[T, K] { return r.store }

// Add inserts entity, or stages it when ctx carries an active scope.
func (r *Repository[T, K]) Add(ctx context.Context, entity T) error {
	return r.write(ctx, domain.AddOp[T, K](entity))
}

// Update replaces entity, or stages the replacement under an active scope.
func (r *Repository[T, K]) Update(ctx context.Context, entity T) error {
	return r.write(ctx, domain.UpdateOp[T, K](entity))
}

// Delete removes key, or stages the removal under an active scope.
func (r *Repository[T, K]) Delete(ctx context.Context, key K) error {
	return r.write(ctx, domain.DeleteOp[T, K](key))
}

// DeleteEntity removes the entity's identity.
func (r *Repository[T, K]) DeleteEntity(ctx context.Context, entity T) error {
	return r.Delete(ctx, entity.EntityKey())
}

// BeginBatch returns a standalone batch over this repository's store. It does
// not require a scope: commit it explicitly and defer Discard to drop it
// otherwise.
func (r *Repository[T, K]) BeginBatch() *Batch[T, K] {
	return newBatch(r.store, r.settings)
}

func (r *Repository[T, K]) write(ctx context.Context, op domain.Operation[T, K]) (err error) {
	if scope, ok := ScopeFromContext(ctx); ok {
		batch, err := r.batchFor(scope)
		if err != nil {
			return err
		}
		return batch.Enqueue(op)
	}
	operation := "repository." + op.Kind.String()
	started := r.settings.clock.Now()
	defer func() { r.settings.observe(ctx, operation, started, err) }()
	if err = op.Apply(ctx, r.store); err != nil {
		r.settings.logger.Debug("repository write failed", "store", r.store.Name(), "op", op.Kind.String(), "key", fmt.Sprint(op.Key), "error", err)
	}
	return err
}

func (r *Repository[T, K]) batchFor(scope *Scope) (*Batch[T, K], error) {
	p, err := scope.Enlist(r.store, func() Participant {
		return newBatch(r.store, r.settings)
	})
	if err != nil {
		return nil, err
	}
	batch, ok := p.(*Batch[T, K])
	if !ok {
		return nil, fmt.Errorf("store %s already enlisted in scope %s as %T", r.store.Name(), scope.ID(), p)
	}
	return batch, nil
}

// Get returns the committed entity for key.
func (r *Repository[T, K]) Get(ctx context.Context, key K) (T, bool, error) {
	return r.store.Get(ctx, key)
}

// GetAll returns every committed entity.
func (r *Repository[T, K]) GetAll(ctx context.Context) ([]T, error) {
	return r.store.List(ctx)
}

// Find returns the first committed entity matching pred.
func (r *Repository[T, K]) Find(ctx context.Context, pred func(T) bool) (T, bool, error) {
	var zero T
	all, err := r.store.List(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, e := range all {
		if pred(e) {
			return e, true, nil
		}
	}
	return zero, false, nil
}

// FindAll returns every committed entity matching pred.
func (r *Repository[T, K]) FindAll(ctx context.Context, pred func(T) bool) ([]T, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, e := range all {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Exists reports whether key is committed.
func (r *Repository[T, K]) Exists(ctx context.Context, key K) (bool, error) {
	_, ok, err := r.store.Get(ctx, key)
	return ok, err
}

// Count returns the number of committed entities.
func (r *Repository[T, K]) Count(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
