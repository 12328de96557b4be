package remote

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"github.com/ajitpratap0/finlake/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultPatterns match every curated artifact.
var DefaultPatterns = []string{"*.parquet", "*.arrow"}

// File actions reported by Sync.
const (
	ActionUploaded = "uploaded"
	ActionSkipped  = "skipped"
	ActionPlanned  = "planned"
	ActionError    = "error"
)

// SyncedFile is the outcome for one local file.
type SyncedFile struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// SyncResult summarises a sync run. TotalBytes counts every matched file.
type SyncResult struct {
	Backend    string        `json:"backend"`
	DryRun     bool          `json:"dry_run"`
	Uploaded   int           `json:"uploaded"`
	Skipped    int           `json:"skipped"`
	Errors     int           `json:"errors"`
	TotalBytes int64         `json:"total_bytes"`
	Files      []SyncedFile  `json:"files"`
	Duration   time.Duration `json:"duration"`
}

// Syncer walks a local tree and uploads matching files to a Store.
//
// A file is skipped when an object with the same key already exists. Content
// is not compared, so a changed local file keeps its stale remote copy.
type Syncer struct {
	store    Store
	patterns []string
	logger   *zap.Logger
}

// NewSyncer creates a syncer. No patterns means DefaultPatterns.
func NewSyncer(store Store, logger *zap.Logger, patterns ...string) *Syncer {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Syncer{
		store:    store,
		patterns: patterns,
		logger:   logger.With(zap.String("component", "syncer"), zap.String("backend", store.Name())),
	}
}

// Sync uploads every matching file under localDir to prefix/<relative path>.
// Per-file failures are counted and logged; only walk failures and
// cancellation are returned as errors.
func (s *Syncer) Sync(ctx context.Context, localDir, prefix string, dryRun bool) (*SyncResult, error) {
	ctx, span := observability.StartSpan(ctx, "remote.sync",
		attribute.String("backend", s.store.Name()),
		attribute.Bool("dry_run", dryRun))
	start := time.Now()
	result := &SyncResult{Backend: s.store.Name(), DryRun: dryRun, Files: []SyncedFile{}}

	files, err := s.collect(localDir)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	s.logger.Info("found files to sync", zap.Int("files", len(files)), zap.String("dir", localDir))

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			observability.EndSpan(span, err)
			return result, err
		}

		local := filepath.Join(localDir, rel)
		info, err := os.Stat(local)
		if err != nil {
			s.record(result, SyncedFile{Name: filepath.ToSlash(rel), Action: ActionError, Error: err.Error()})
			continue
		}
		entry := SyncedFile{Name: filepath.ToSlash(rel), Key: objectKey(prefix, rel), Size: info.Size()}
		result.TotalBytes += info.Size()

		exists, err := s.store.Exists(ctx, entry.Key)
		if err != nil {
			entry.Action, entry.Error = ActionError, err.Error()
			s.logger.Error("failed to check remote file", zap.String("key", entry.Key), zap.Error(err))
			s.record(result, entry)
			continue
		}
		if exists {
			entry.Action = ActionSkipped
			s.logger.Debug("file exists remotely", zap.String("key", entry.Key))
			s.record(result, entry)
			continue
		}
		if dryRun {
			entry.Action = ActionPlanned
			s.logger.Info("would upload", zap.String("key", entry.Key), zap.Int64("bytes", entry.Size))
			s.record(result, entry)
			continue
		}

		id, err := s.store.Upload(ctx, entry.Key, local, map[string]string{
			"local_path":  filepath.ToSlash(rel),
			"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			entry.Action, entry.Error = ActionError, err.Error()
			s.logger.Error("upload failed", zap.String("key", entry.Key), zap.Error(err))
		} else {
			entry.Action, entry.ID = ActionUploaded, id
			s.logger.Info("uploaded", zap.String("key", entry.Key), zap.Int64("bytes", entry.Size))
		}
		s.record(result, entry)
	}

	result.Duration = time.Since(start)
	s.logger.Info("sync complete",
		zap.Int("uploaded", result.Uploaded),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration))
	observability.EndSpan(span, nil)
	return result, nil
}

func (s *Syncer) record(result *SyncResult, f SyncedFile) {
	switch f.Action {
	case ActionUploaded:
		result.Uploaded++
	case ActionSkipped, ActionPlanned:
		result.Skipped++
	default:
		result.Errors++
	}
	result.Files = append(result.Files, f)
	metrics.SyncFiles.WithLabelValues(s.store.Name(), f.Action).Inc()
}

// collect returns relative paths of matching files in sorted order. A
// missing directory yields no files.
func (s *Syncer) collect(localDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == localDir {
				s.logger.Warn("local directory not found", zap.String("dir", localDir))
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !s.matches(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to walk sync directory")
	}
	sort.Strings(files)
	return files, nil
}

func (s *Syncer) matches(name string) bool {
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
