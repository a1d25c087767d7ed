package blob

import (
	"context"
	"fmt"
	"os"
)

// Config selects and parameterises a blob driver.
type Config struct {
	Driver Driver
	// FSRoot is the directory root when Driver is fs (default ./blobdata).
	FSRoot string
	// S3 is used when Driver is s3. A zero Bucket falls back to the
	// REPOBATCH_BLOB_S3_* environment variables.
	S3 S3Config
}

// ConfigFromEnv reads the driver selection from the environment.
//
//	REPOBATCH_BLOB_DRIVER: fs|s3|memory (default fs)
//	REPOBATCH_BLOB_FS_ROOT: directory root when driver=fs
//	(S3 specific variables documented in internal/infra/blob/s3)
func ConfigFromEnv() Config {
	cfg := Config{
		Driver: Driver(os.Getenv("REPOBATCH_BLOB_DRIVER")),
		FSRoot: os.Getenv("REPOBATCH_BLOB_FS_ROOT"),
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverFilesystem
	}
	return cfg
}

// Open constructs the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return OpenFromEnv(ctx)
		}
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
