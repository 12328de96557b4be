package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStore uploads to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	logger *zap.Logger
}

// NewGCSStore creates a storage client using the credentials file when set,
// otherwise application default credentials.
func NewGCSStore(ctx context.Context, cfg Config, logger *zap.Logger, extra ...option.ClientOption) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, storageError(err, BackendGCS, "create client", cfg.Bucket)
	}

	return &GCSStore{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		logger: logger.With(zap.String("component", "gcs_store"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Name implements Store.
func (s *GCSStore) Name() string { return BackendGCS }

// Exists reads the object attributes.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, storageError(err, BackendGCS, "stat", key)
}

// Upload copies the file through an object writer.
func (s *GCSStore) Upload(ctx context.Context, key, localPath string, metadata map[string]string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", storageError(err, BackendGCS, "open", localPath)
	}
	defer f.Close()

	start := time.Now()
	writer := s.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType(key)
	writer.Metadata = metadata

	if _, err := io.Copy(writer, f); err != nil {
		_ = writer.Close()
		return "", storageError(err, BackendGCS, "write", key)
	}
	if err := writer.Close(); err != nil {
		return "", storageError(err, BackendGCS, "close", key)
	}

	s.logger.Debug("object uploaded", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	return "gs://" + s.name + "/" + key, nil
}

// Close implements Store.
func (s *GCSStore) Close() error { return s.client.Close() }
