// Package domain defines the storage contracts shared by repositories, batches
// and the concrete record store adapters.
package domain

import "context"

// Entity is any record carrying a single identity value.
type Entity[K comparable] interface {
	EntityKey() K
}

// RecordStore is the direct, non-transactional backing storage for one entity
// type. Every method applies immediately and is visible to subsequent reads.
//
// Add fails with a DuplicateKeyError when the identity already exists. Update
// and Delete fail with a NotFoundError when it does not.
type RecordStore[T Entity[K], K comparable] interface {
	// Name identifies the store in logs, metrics and errors.
	Name() string
	Get(ctx context.Context, key K) (T, bool, error)
	List(ctx context.Context) ([]T, error)
	Add(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, key K) error
}

// Cloner is implemented by entities holding reference fields (maps, slices,
// pointers) that must not be shared between the caller and a store.
type Cloner[T any] interface {
	Clone() T
}

// CloneEntity returns a deep copy of v when it implements Cloner, otherwise v.
func CloneEntity[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}
