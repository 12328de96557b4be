package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	driveChunkSize = 50 * 1024 * 1024
)

// DriveStore uploads into a Google Drive folder tree, creating sub-folders
// for every key segment. It authenticates with a service account key; there
// is no interactive flow.
type DriveStore struct {
	service *drive.Service
	root    string
	logger  *zap.Logger

	mu      sync.Mutex
	folders map[string]string // folder path -> id
}

// NewDriveStore creates a Drive v3 client scoped to files it creates.
func NewDriveStore(ctx context.Context, cfg Config, logger *zap.Logger, extra ...option.ClientOption) (*DriveStore, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveFileScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, storageError(err, BackendDrive, "create client", cfg.FolderID)
	}

	return &DriveStore{
		service: svc,
		root:    cfg.FolderID,
		logger:  logger.With(zap.String("component", "drive_store"), zap.String("folder_id", cfg.FolderID)),
		folders: map[string]string{"": cfg.FolderID},
	}, nil
}

// Name implements Store.
func (s *DriveStore) Name() string { return BackendDrive }

// Exists looks the file up by name in its folder. A missing folder means a
// missing file.
func (s *DriveStore) Exists(ctx context.Context, key string) (bool, error) {
	dir, name := splitKey(key)
	parent, err := s.folder(ctx, dir, false)
	if err != nil {
		return false, err
	}
	if parent == "" {
		return false, nil
	}
	id, err := s.find(ctx, name, parent, false)
	if err != nil {
		return false, storageError(err, BackendDrive, "search", key)
	}
	return id != "", nil
}

// Upload creates folders as needed and uploads the file in resumable chunks.
func (s *DriveStore) Upload(ctx context.Context, key, localPath string, metadata map[string]string) (string, error) {
	dir, name := splitKey(key)
	parent, err := s.folder(ctx, dir, true)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", storageError(err, BackendDrive, "open", localPath)
	}
	defer f.Close()

	start := time.Now()
	created, err := s.service.Files.Create(&drive.File{
		Name:       name,
		Parents:    []string{parent},
		MimeType:   contentType(key),
		Properties: metadata,
	}).Media(f, googleapi.ChunkSize(driveChunkSize)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", storageError(err, BackendDrive, "upload", key)
	}

	s.logger.Debug("file uploaded", zap.String("key", key), zap.String("id", created.Id), zap.Duration("duration", time.Since(start)))
	return created.Id, nil
}

// Close implements Store.
func (s *DriveStore) Close() error { return nil }

// folder resolves a slash-separated folder path to an id, creating missing
// folders when create is set. It returns "" when a folder is missing and
// create is false.
func (s *DriveStore) folder(ctx context.Context, dir string, create bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.folders[dir]; ok {
		return id, nil
	}

	current := ""
	parent := s.root
	for _, part := range strings.Split(dir, "/") {
		current = strings.TrimPrefix(current+"/"+part, "/")
		if id, ok := s.folders[current]; ok {
			parent = id
			continue
		}

		id, err := s.find(ctx, part, parent, true)
		if err != nil {
			return "", storageError(err, BackendDrive, "search folder", current)
		}
		if id == "" {
			if !create {
				return "", nil
			}
			f, err := s.service.Files.Create(&drive.File{
				Name:     part,
				MimeType: folderMimeType,
				Parents:  []string{parent},
			}).Fields("id").Context(ctx).Do()
			if err != nil {
				return "", storageError(err, BackendDrive, "create folder", current)
			}
			id = f.Id
			s.logger.Debug("created folder", zap.String("path", current), zap.String("id", id))
		}
		s.folders[current] = id
		parent = id
	}
	return parent, nil
}

func (s *DriveStore) find(ctx context.Context, name, parent string, folder bool) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(parent))
	if folder {
		q += fmt.Sprintf(" and mimeType = '%s'", folderMimeType)
	}
	list, err := s.service.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func splitKey(key string) (dir, name string) {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
