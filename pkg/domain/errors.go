package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey matches any DuplicateKeyError via errors.Is.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound matches any NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrBatchClosed is returned when a committed or discarded batch is reused.
	ErrBatchClosed = errors.New("batch already closed")
	// ErrScopeEnded is returned when a scope is completed after End.
	ErrScopeEnded = errors.New("scope already ended")
	// ErrScopeAborted is returned by the outermost End when a nested scope
	// ended without completing.
	ErrScopeAborted = errors.New("scope aborted by nested scope")
)

// DuplicateKeyError reports an add whose identity already exists.
type DuplicateKeyError struct {
	Store string
	Key   string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Store, e.Key)
}

// Is matches ErrDuplicateKey.
func (e DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// NotFoundError reports an update or delete of an absent identity.
type NotFoundError struct {
	Store string
	Key   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Store, e.Key)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BatchCommitError wraps the first operation failure during a batch commit.
// Operations before Index were applied; operations after it were not.
type BatchCommitError struct {
	Store string
	Index int
	Kind  OpKind
	Key   string
	Err   error
}

func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("commit %s: operation %d (%s %s): %v", e.Store, e.Index, e.Kind, e.Key, e.Err)
}

func (e *BatchCommitError) Unwrap() error { return e.Err }

// NewDuplicateKey builds a DuplicateKeyError formatting key with %v.
func NewDuplicateKey(store string, key any) error {
	return DuplicateKeyError{Store: store, Key: fmt.Sprint(key)}
}

// NewNotFound builds a NotFoundError formatting key with %v.
func NewNotFound(store string, key any) error {
	return NotFoundError{Store: store, Key: fmt.Sprint(key)}
}
