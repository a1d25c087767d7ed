package domain

import (
	"context"
	"fmt"
)

// OpKind enumerates the mutations a batch can stage.
type OpKind int

const (
	// OpAdd inserts a new entity.
	OpAdd OpKind = iota + 1
	// OpUpdate replaces an existing entity.
	OpUpdate
	// OpDelete removes an entity by key.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Operation is a pending mutation recorded in a batch. Entity is set for adds
// and updates; Key is always set.
type Operation[T Entity[K], K comparable] struct {
	Kind   OpKind
	Entity T
	Key    K
}

// AddOp stages the insertion of entity.
func AddOp[T Entity[K], K comparable](entity T) Operation[T, K] {
	return Operation[T, K]{Kind: OpAdd, Entity: entity, Key: entity.EntityKey()}
}

// UpdateOp stages the replacement of entity.
func UpdateOp[T Entity[K], K comparable](entity T) Operation[T, K] {
	return Operation[T, K]{Kind: OpUpdate, Entity: entity, Key: entity.EntityKey()}
}

// DeleteOp stages the removal of key.
func DeleteOp[T Entity[K], K comparable](key K) Operation[T, K] {
	return Operation[T, K]{Kind: OpDelete, Key: key}
}

// Apply runs the operation against store.
func (op Operation[T, K]) Apply(ctx context.Context, store RecordStore[T, K]) error {
	switch op.Kind {
	case OpAdd:
		return store.Add(ctx, op.Entity)
	case OpUpdate:
		return store.Update(ctx, op.Entity)
	case OpDelete:
		return store.Delete(ctx, op.Key)
	default:
		return fmt.Errorf("unknown operation kind %s", op.Kind)
	}
}
