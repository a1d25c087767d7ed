package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"repobatch/pkg/domain"
)

type batchState int

const (
	batchOpen batchState = iota
	batchCommitted
	batchDiscarded
)

// Batch is an ordered queue of pending mutations against one record store.
// Nothing reaches the store until Commit; Discard drops the queue. A batch is
// consumed exactly once, after which it rejects further use with
// domain.ErrBatchClosed.
type Batch[T domain.Entity[K], K comparable] struct {
	mu       sync.Mutex
	store    domain.RecordStore[T, K]
	ops      []domain.Operation[T, K]
	state    batchState
	settings settings
}

// NewBatch returns an open batch bound to store.
func NewBatch[T domain.Entity[K], K comparable](store domain.RecordStore[T, K], opts ...Option) *Batch[T, K] {
	return newBatch(store, newSettings(opts))
}

func newBatch[T domain.Entity[K], K comparable](store domain.RecordStore[T, K], s settings) *Batch[T, K] {
	return &Batch[T, K]{store: store, settings: s}
}

// Store returns the record store the batch targets.
func (b *Batch[T, K]) Store() domain.RecordStore[T, K] { return b.store }

// Enqueue appends op to the queue.
func (b *Batch[T, K]) Enqueue(op domain.Operation[T, K]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchOpen {
		return fmt.Errorf("enqueue %s on %s: %w", op.Kind, b.store.Name(), domain.ErrBatchClosed)
	}
	if op.Kind != domain.OpDelete {
		op.Entity = domain.CloneEntity(op.Entity)
	}
	b.ops = append(b.ops, op)
	return nil
}

// Add stages the insertion of entity.
func (b *Batch[T, K]) Add(entity T) error { return b.Enqueue(domain.AddOp[T, K](entity)) }

// Update stages the replacement of entity.
func (b *Batch[T, K]) Update(entity T) error { return b.Enqueue(domain.UpdateOp[T, K](entity)) }

// Delete stages the removal of key.
func (b *Batch[T, K]) Delete(key K) error { return b.Enqueue(domain.DeleteOp[T, K](key)) }

// Len reports the number of queued operations.
func (b *Batch[T, K]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// Pending returns a copy of the queued operations in submission order.
func (b *Batch[T, K]) Pending() []domain.Operation[T, K] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Operation[T, K], len(b.ops))
	copy(out, b.ops)
	return out
}

// Closed reports whether the batch was committed or discarded.
func (b *Batch[T, K]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != batchOpen
}

// Commit replays every queued operation against the store in submission
// order. A replayed delete whose key is already absent counts as applied.
// The first failing operation aborts the rest and is returned as a
// *domain.BatchCommitError; operations applied before it stay applied.
func (b *Batch[T, K]) Commit(ctx context.Context) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchOpen {
		return fmt.Errorf("commit %s: %w", b.store.Name(), domain.ErrBatchClosed)
	}
	ops := b.ops
	b.ops = nil
	b.state = batchCommitted

	started := b.settings.clock.Now()
	ctx, span := b.settings.tracer.Start(ctx, "batch.commit")
	defer func() {
		span.End(err)
		b.settings.observe(ctx, "batch.commit", started, err)
	}()

	for i, op := range ops {
		opErr := ctx.Err()
		if opErr == nil {
			opErr = op.Apply(ctx, b.store)
			if op.Kind == domain.OpDelete && errors.Is(opErr, domain.ErrNotFound) {
				b.settings.logger.Debug("batch delete of absent key", "store", b.store.Name(), "index", i, "key", fmt.Sprint(op.Key))
				opErr = nil
			}
		}
		if opErr != nil {
			b.settings.logger.Error("batch commit failed",
				"store", b.store.Name(), "index", i, "op", op.Kind.String(), "key", fmt.Sprint(op.Key),
				"applied", i, "skipped", len(ops)-i-1, "error", opErr)
			return &domain.BatchCommitError{
				Store: b.store.Name(),
				Index: i,
				Kind:  op.Kind,
				Key:   fmt.Sprint(op.Key),
				Err:   opErr,
			}
		}
	}
	b.settings.logger.Debug("batch committed", "store", b.store.Name(), "operations", len(ops))
	return nil
}

// Discard drops every queued operation without touching the store. It is a
// no-op once the batch has been committed or discarded, so it is safe to
// defer right after BeginBatch.
func (b *Batch[T, K]) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchOpen {
		return
	}
	if len(b.ops) > 0 {
		b.settings.logger.Debug("batch discarded", "store", b.store.Name(), "operations", len(b.ops))
	}
	b.ops = nil
	b.state = batchDiscarded
}
