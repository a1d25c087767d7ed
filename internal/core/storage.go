// Package core wires configuration to concrete record store adapters.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"repobatch/internal/blob"
	"repobatch/internal/infra/persistence/blobstore"
	"repobatch/internal/infra/persistence/memory"
	"repobatch/internal/infra/persistence/postgres"
	redisstore "repobatch/internal/infra/persistence/redis"
	"repobatch/internal/infra/persistence/sqlite"
	"repobatch/pkg/domain"
)

// Backend holds the connections shared by every store opened from one Config.
type Backend struct {
	cfg   Config
	db    *sql.DB
	redis *goredis.Client
	blobs blob.Store
}

// OpenBackend opens the connection required by cfg.Driver.
func OpenBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{cfg: cfg}
	var err error
	switch cfg.Driver {
	case StorageSQLite:
		b.db, err = sqlite.OpenDB(cfg.SQLitePath)
	case StoragePostgres:
		b.db, err = postgres.OpenDB(ctx, cfg.PostgresDSN)
	case StorageRedis:
		b.redis = redisstore.NewClient(cfg.Redis)
		err = b.redis.Ping(ctx).Err()
		if err != nil {
			_ = b.redis.Close()
			err = fmt.Errorf("ping redis: %w", err)
		}
	case StorageBlob:
		b.blobs, err = blob.Open(ctx, cfg.Blob)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Driver reports the configured storage driver.
func (b *Backend) Driver() StorageDriver { return b.cfg.Driver }

// Close releases the backend connections.
func (b *Backend) Close() error {
	var errs []error
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// OpenRecordStore builds the store named name on b.
func OpenRecordStore[T domain.Entity[K], K comparable](ctx context.Context, b *Backend, name string) (domain.RecordStore[T, K], error) {
	switch b.cfg.Driver {
	case StorageMemory:
		return memory.NewStore[T, K](name), nil
	case StorageSQLite:
		store, err := sqlite.NewStoreWithDB[T, K](ctx, b.db, name)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStoreWithDB[T, K](ctx, b.db, name)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageRedis:
		return redisstore.NewStore[T, K](b.redis, name), nil
	case StorageBlob:
		return blobstore.NewStore[T, K](b.blobs, name), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", b.cfg.Driver)
	}
}
