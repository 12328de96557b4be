package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalStore mirrors files into a directory, e.g. a mounted network share.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

// NewLocalStore creates the target directory.
func NewLocalStore(dir string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageError(err, BackendLocal, "create", dir)
	}
	return &LocalStore{dir: dir, logger: logger.With(zap.String("component", "local_store"))}, nil
}

// Name implements Store.
func (s *LocalStore) Name() string { return BackendLocal }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Exists implements Store.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storageError(err, BackendLocal, "stat", key)
}

// Upload copies the file. Metadata is not persisted.
func (s *LocalStore) Upload(ctx context.Context, key, localPath string, _ map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", storageError(err, BackendLocal, "mkdir", key)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return "", storageError(err, BackendLocal, "open", localPath)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", storageError(err, BackendLocal, "create", key)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", storageError(err, BackendLocal, "copy", key)
	}
	if err := out.Close(); err != nil {
		return "", storageError(err, BackendLocal, "close", key)
	}
	return dst, nil
}

// Close implements Store.
func (s *LocalStore) Close() error { return nil }
