// Package blobstore provides a record store that keeps each entity as a JSON
// document in a blob.Store under "<name>/<escaped key>.json".
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"repobatch/internal/blob"
	"repobatch/pkg/domain"
)

const contentType = "application/json"

// Store is a domain.RecordStore over a blob.Store. List orders entities by
// object key, which is the entity key formatted with %v and path escaped so
// that it never contains '/' or '.'.
type Store[T domain.Entity[K], K comparable] struct {
	blobs  blob.Store
	name   string
	prefix string
}

// NewStore binds a store named name to blobs.
func NewStore[T domain.Entity[K], K comparable](blobs blob.Store, name string) *Store[T, K] {
	return &Store[T, K]{blobs: blobs, name: name, prefix: name + "/"}
}

// Name implements domain.RecordStore.
func (s *Store[T, K]) Name() string { return s.name }

// Blobs exposes the underlying blob store.
func (s *Store[T, K]) Blobs() blob.Store { return s.blobs }

func (s *Store[T, K]) objectKey(key K) string {
	return s.prefix + escapeKey(fmt.Sprint(key)) + ".json"
}

func escapeKey(key string) string {
	return strings.ReplaceAll(url.PathEscape(key), ".", "%2E")
}

func (s *Store[T, K]) read(ctx context.Context, objectKey string) (T, error) {
	var entity T
	_, rc, err := s.blobs.Get(ctx, objectKey)
	if err != nil {
		return entity, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return entity, fmt.Errorf("read %s: %w", objectKey, err)
	}
	if err := json.Unmarshal(raw, &entity); err != nil {
		return entity, fmt.Errorf("decode %s: %w", objectKey, err)
	}
	return entity, nil
}

func (s *Store[T, K]) write(ctx context.Context, entity T, overwrite bool) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %v: %w", s.name, entity.EntityKey(), err)
	}
	_, err = s.blobs.Put(ctx, s.objectKey(entity.EntityKey()), bytes.NewReader(payload), blob.PutOptions{ContentType: contentType, Overwrite: overwrite})
	return err
}

// Get implements domain.RecordStore.
func (s *Store[T, K]) Get(ctx context.Context, key K) (T, bool, error) {
	entity, err := s.read(ctx, s.objectKey(key))
	if errors.Is(err, blob.ErrNotFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return entity, true, nil
}

// List implements domain.RecordStore.
func (s *Store[T, K]) List(ctx context.Context) ([]T, error) {
	infos, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, err)
	}
	out := make([]T, 0, len(infos))
	for _, info := range infos {
		rel := strings.TrimPrefix(info.Key, s.prefix)
		if !strings.HasSuffix(rel, ".json") || strings.Contains(rel, "/") {
			continue
		}
		entity, err := s.read(ctx, info.Key)
		if errors.Is(err, blob.ErrNotFound) {
			// deleted between List and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Add implements domain.RecordStore.
func (s *Store[T, K]) Add(ctx context.Context, entity T) error {
	err := s.write(ctx, entity, false)
	if errors.Is(err, blob.ErrExists) {
		return domain.NewDuplicateKey(s.name, entity.EntityKey())
	}
	return err
}

// Update implements domain.RecordStore.
func (s *Store[T, K]) Update(ctx context.Context, entity T) error {
	key := entity.EntityKey()
	if _, err := s.blobs.Head(ctx, s.objectKey(key)); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.NewNotFound(s.name, key)
		}
		return err
	}
	return s.write(ctx, entity, true)
}

// Delete implements domain.RecordStore.
func (s *Store[T, K]) Delete(ctx context.Context, key K) error {
	removed, err := s.blobs.Delete(ctx, s.objectKey(key))
	if err != nil {
		return fmt.Errorf("delete %s %v: %w", s.name, key, err)
	}
	if !removed {
		return domain.NewNotFound(s.name, key)
	}
	return nil
}
