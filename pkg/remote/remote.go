// Package remote syncs curated lake files to a remote object store.
package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"go.uber.org/zap"
)

// Backend names.
const (
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendDrive = "drive"
	BackendLocal = "local"
)

// Store is a remote destination addressed by slash-separated keys.
type Store interface {
	// Name returns the backend name.
	Name() string
	// Exists reports whether an object with this key is already present.
	Exists(ctx context.Context, key string) (bool, error)
	// Upload copies the local file to key and returns the remote identifier.
	Upload(ctx context.Context, key, localPath string, metadata map[string]string) (string, error)
	// Close releases clients.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Bucket is the S3/GCS bucket.
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// Region and Endpoint are S3 only. A custom endpoint enables path-style addressing.
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// CredentialsFile is a service account key for GCS and Drive.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// FolderID is the Drive folder that receives the tree.
	FolderID string `yaml:"folder_id" mapstructure:"folder_id"`
	// Dir is the target directory of the local backend.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Patterns are file globs matched against base names; empty means every
	// curated artifact.
	Patterns    []string `yaml:"patterns" mapstructure:"patterns"`
	PartSize    int64    `yaml:"part_size" mapstructure:"part_size"`
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// DefaultConfig returns a local backend configuration.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendLocal,
		Dir:         "./remote",
		Region:      "us-east-1",
		PartSize:    5 * 1024 * 1024,
		Concurrency: 4,
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendS3, BackendGCS:
		if c.Bucket == "" {
			return errors.Newf(errors.ErrorTypeConfig, "%s backend requires a bucket", c.Backend)
		}
	case BackendDrive:
		if c.FolderID == "" {
			return errors.New(errors.ErrorTypeConfig, "drive backend requires folder_id")
		}
		if c.CredentialsFile == "" {
			return errors.New(errors.ErrorTypeConfig, "drive backend requires credentials_file")
		}
	case BackendLocal:
		if c.Dir == "" {
			return errors.New(errors.ErrorTypeConfig, "local backend requires dir")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown sync backend %q (expected s3, gcs, drive or local)", c.Backend)
	}
	return nil
}

// NewStore creates the configured backend.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendS3:
		return NewS3Store(ctx, cfg, logger)
	case BackendGCS:
		return NewGCSStore(ctx, cfg, logger)
	case BackendDrive:
		return NewDriveStore(ctx, cfg, logger)
	default:
		return NewLocalStore(cfg.Dir, logger)
	}
}

// objectKey joins a prefix and a relative path into a slash-separated key.
func objectKey(prefix, rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return strings.TrimPrefix(path.Clean("/"+rel), "/")
	}
	return path.Join(prefix, rel)
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".arrow":
		return "application/vnd.apache.arrow.file"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func storageError(err error, backend, op, key string) error {
	return errors.Wrap(err, errors.ErrorTypeStorage, fmt.Sprintf("%s %s %s", backend, op, key))
}
