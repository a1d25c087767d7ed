// Package redis provides a record store keeping one Redis hash per entity
// type, with one JSON-encoded field per entity.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"repobatch/pkg/domain"
)

const keyPrefix = "repobatch:"

// Options configures the Redis connection.
type Options struct {
	// Address of the Redis server.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
}

// DefaultOptions targets a local unauthenticated server.
func DefaultOptions() Options {
	return Options{Address: "localhost:6379"}
}

// NewClient opens a client for opts.
func NewClient(opts Options) *redis.Client {
	if opts.Address == "" {
		opts.Address = DefaultOptions().Address
	}
	return redis.NewClient(&redis.Options{
		Addr:      opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
}

// updateIfExists replaces a field only when it is already present so the
// existence check and the write are one atomic step.
var updateIfExists = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// Store is a domain.RecordStore backed by a Redis hash. Field names are the
// entity keys formatted with %v; List orders entities by that field name.
type Store[T domain.Entity[K], K comparable] struct {
	client redis.UniversalClient
	name   string
	hash   string
}

// NewStore binds a store named name to client.
func NewStore[T domain.Entity[K], K comparable](client redis.UniversalClient, name string) *Store[T, K] {
	return &Store[T, K]{client: client, name: name, hash: keyPrefix + name}
}

// Name implements domain.RecordStore.
func (s *Store[T, K]) Name() string { return s.name }

func field[K comparable](key K) string { return fmt.Sprint(key) }

// Get implements domain.RecordStore.
func (s *Store[T, K]) Get(ctx context.Context, key K) (T, bool, error) {
	var zero T
	raw, err := s.client.HGet(ctx, s.hash, field(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s %v: %w", s.name, key, err)
	}
	var entity T
	if err := json.Unmarshal(raw, &entity); err != nil {
		return zero, false, fmt.Errorf("decode %s %v: %w", s.name, key, err)
	}
	return entity, true, nil
}

// List implements domain.RecordStore.
func (s *Store[T, K]) List(ctx context.Context) ([]T, error) {
	all, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", s.name, err)
	}
	fields := make([]string, 0, len(all))
	for f := range all {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]T, 0, len(fields))
	for _, f := range fields {
		var entity T
		if err := json.Unmarshal([]byte(all[f]), &entity); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", s.name, f, err)
		}
		out = append(out, entity)
	}
	return out, nil
}

// Add implements domain.RecordStore.
func (s *Store[T, K]) Add(ctx context.Context, entity T) error {
	key := entity.EntityKey()
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %v: %w", s.name, key, err)
	}
	created, err := s.client.HSetNX(ctx, s.hash, field(key), payload).Result()
	if err != nil {
		return fmt.Errorf("redis add %s %v: %w", s.name, key, err)
	}
	if !created {
		return domain.NewDuplicateKey(s.name, key)
	}
	return nil
}

// Update implements domain.RecordStore.
func (s *Store[T, K]) Update(ctx context.Context, entity T) error {
	key := entity.EntityKey()
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %v: %w", s.name, key, err)
	}
	updated, err := updateIfExists.Run(ctx, s.client, []string{s.hash}, field(key), payload).Int()
	if err != nil {
		return fmt.Errorf("redis update %s %v: %w", s.name, key, err)
	}
	if updated == 0 {
		return domain.NewNotFound(s.name, key)
	}
	return nil
}

// Delete implements domain.RecordStore.
func (s *Store[T, K]) Delete(ctx context.Context, key K) error {
	removed, err := s.client.HDel(ctx, s.hash, field(key)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s %v: %w", s.name, key, err)
	}
	if removed == 0 {
		return domain.NewNotFound(s.name, key)
	}
	return nil
}
