package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"repobatch/internal/blob"
	redisstore "repobatch/internal/infra/persistence/redis"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // one hash per store
	StorageBlob     StorageDriver = "blob"     // JSON documents in a blob store
)

// Config captures driver selection and connection settings.
type Config struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	Redis       redisstore.Options
	Blob        blob.Config
	LogMode     string
}

// LoadConfig reads configuration from the environment.
//
//	REPOBATCH_STORAGE_DRIVER: memory|sqlite|postgres|redis|blob (default memory)
//	REPOBATCH_SQLITE_PATH: sqlite file (default ./repobatch.db)
//	REPOBATCH_POSTGRES_DSN: postgres DSN when driver=postgres
//	REPOBATCH_REDIS_ADDR / REPOBATCH_REDIS_PASSWORD / REPOBATCH_REDIS_DB
//	REPOBATCH_BLOB_DRIVER / REPOBATCH_BLOB_FS_ROOT / REPOBATCH_BLOB_S3_*
//	REPOBATCH_LOG_MODE: dev|prod (default dev)
func LoadConfig() (Config, error) {
	cfg := Config{
		Driver:      StorageDriver(strings.ToLower(os.Getenv("REPOBATCH_STORAGE_DRIVER"))),
		SQLitePath:  os.Getenv("REPOBATCH_SQLITE_PATH"),
		PostgresDSN: os.Getenv("REPOBATCH_POSTGRES_DSN"),
		Redis: redisstore.Options{
			Address:  os.Getenv("REPOBATCH_REDIS_ADDR"),
			Password: os.Getenv("REPOBATCH_REDIS_PASSWORD"),
		},
		Blob:    blob.ConfigFromEnv(),
		LogMode: os.Getenv("REPOBATCH_LOG_MODE"),
	}
	if cfg.Driver == "" {
		cfg.Driver = StorageMemory
	}
	if cfg.LogMode == "" {
		cfg.LogMode = "dev"
	}
	if raw := os.Getenv("REPOBATCH_REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("REPOBATCH_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers.
func (c Config) Validate() error {
	switch c.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres, StorageRedis, StorageBlob:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %s", c.Driver)
	}
}
