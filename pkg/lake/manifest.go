package lake

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// SchemaVersion is written into every manifest.
const SchemaVersion = "1.0"

// Ingestion statuses recorded in manifests.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

const periodLayout = "2006-01-02"

// Manifest is the audit record of one dataset ingestion run.
type Manifest struct {
	Source             string         `json:"source"`
	Dataset            string         `json:"dataset"`
	Domain             string         `json:"domain"`
	PeriodStart        string         `json:"period_start"`
	PeriodEnd          string         `json:"period_end"`
	FileCount          int            `json:"file_count"`
	Files              []FileMetadata `json:"files"`
	SourceURL          string         `json:"source_url"`
	SchemaVersion      string         `json:"schema_version"`
	IngestionTimestamp time.Time      `json:"ingestion_timestamp"`
	IngestionStatus    string         `json:"ingestion_status"`
	RunID              string         `json:"run_id,omitempty"`
}

// ManifestInput carries what the caller knows about a run.
type ManifestInput struct {
	Source      string
	Dataset     string
	Domain      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Files       []FileMetadata
	SourceURL   string
	// Status defaults to StatusSuccess.
	Status string
	RunID  string
}

// Mismatch is one file whose recorded metadata no longer matches the lake.
type Mismatch struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Reason   string `json:"reason"`
}

// Verification reports the outcome of VerifyManifest.
type Verification struct {
	Manifest   string     `json:"manifest"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether every file matched.
func (v *Verification) OK() bool { return len(v.Mismatches) == 0 }

// SaveManifest writes a new manifest file and returns its path. A second
// manifest within the same second gets a numeric suffix; existing manifests
// are never replaced.
func (l *Lake) SaveManifest(in ManifestInput) (string, error) {
	if err := checkSegments(in.Source, in.Dataset, in.Domain); err != nil {
		return "", err
	}
	timer := metrics.NewTimer("save_manifest")

	now := l.clock()
	status := in.Status
	if status == "" {
		status = StatusSuccess
	}
	files := in.Files
	if files == nil {
		files = []FileMetadata{}
	}

	m := Manifest{
		Source:             in.Source,
		Dataset:            in.Dataset,
		Domain:             in.Domain,
		PeriodStart:        formatPeriod(in.PeriodStart),
		PeriodEnd:          formatPeriod(in.PeriodEnd),
		FileCount:          len(files),
		Files:              files,
		SourceURL:          in.SourceURL,
		SchemaVersion:      SchemaVersion,
		IngestionTimestamp: now,
		IngestionStatus:    status,
		RunID:              in.RunID,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode manifest")
	}

	dir := filepath.Join(l.manifDir, in.Domain, in.Dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create manifest dir")
	}

	l.manifestMu.Lock()
	path, err := createExclusive(dir, fmt.Sprintf("%s_%s", in.Source, now.Format("20060102_150405")), data)
	l.manifestMu.Unlock()

	observeWrite("manifest", int64(len(data)), timer, err)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to write manifest")
	}

	l.logger.Info("saved manifest",
		zap.String("path", path),
		zap.String("dataset", in.Dataset),
		zap.Int("file_count", m.FileCount),
		zap.String("status", status))
	return path, nil
}

// createExclusive creates <stem>.json, or <stem>_<n>.json for the first free
// n, refusing to open an existing file.
func createExclusive(dir, stem string, data []byte) (string, error) {
	for n := 0; n < 1000; n++ {
		name := stem + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.json", stem, n)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("too many manifests named %s", stem)
}

// ListManifests returns manifest paths for a dataset, oldest first. Empty
// domain or dataset widen the search.
func (l *Lake) ListManifests(domain, dataset string) ([]string, error) {
	root := l.manifDir
	if domain != "" {
		if err := checkSegments(domain); err != nil {
			return nil, err
		}
		root = filepath.Join(root, domain)
		if dataset != "" {
			if err := checkSegments(dataset); err != nil {
				return nil, err
			}
			root = filepath.Join(root, dataset)
		}
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list manifests")
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadManifest decodes a manifest file.
func (l *Lake) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode manifest")
	}
	return &m, nil
}

// VerifyManifest recomputes the hash of every file a manifest lists and
// reports the ones that are missing or changed.
func (l *Lake) VerifyManifest(path string) (*Verification, error) {
	m, err := l.LoadManifest(path)
	if err != nil {
		return nil, err
	}

	v := &Verification{Manifest: path}
	if m.FileCount != len(m.Files) {
		v.Mismatches = append(v.Mismatches, Mismatch{
			Name:     filepath.Base(path),
			Expected: fmt.Sprintf("%d files", m.FileCount),
			Actual:   fmt.Sprintf("%d files", len(m.Files)),
			Reason:   "file_count does not match files",
		})
	}

	for _, f := range m.Files {
		v.Checked++
		candidates := l.locate(m, f)
		if len(candidates) == 0 {
			v.Mismatches = append(v.Mismatches, Mismatch{Name: f.Name, Expected: f.SHA256, Reason: "missing"})
			continue
		}

		var actual string
		matched := false
		for _, c := range candidates {
			sum, err := sha256File(c)
			if err != nil {
				continue
			}
			actual = sum
			if sum == f.SHA256 {
				matched = true
				break
			}
		}
		if !matched {
			v.Mismatches = append(v.Mismatches, Mismatch{Name: f.Name, Expected: f.SHA256, Actual: actual, Reason: "sha256 mismatch"})
		}
	}

	l.logger.Debug("verified manifest", zap.String("path", path), zap.Int("checked", v.Checked), zap.Int("mismatches", len(v.Mismatches)))
	return v, nil
}

// locate finds files a manifest entry may refer to. The recorded relative
// path wins; otherwise the dataset's curated tree and the source's raw tree
// are searched by name.
func (l *Lake) locate(m *Manifest, f FileMetadata) []string {
	if f.Path != "" {
		p := filepath.Join(l.config.BaseDir, filepath.FromSlash(f.Path))
		if _, err := os.Stat(p); err == nil {
			return []string{p}
		}
	}

	var found []string
	roots := []string{
		filepath.Join(l.curatedDir, m.Domain, m.Dataset),
		filepath.Join(l.rawDir, m.Source),
	}
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return filepath.SkipDir
			}
			if !d.IsDir() && d.Name() == f.Name {
				found = append(found, path)
			}
			return nil
		})
	}
	return found
}

func formatPeriod(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(periodLayout)
}
