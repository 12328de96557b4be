// Package lake persists ingested data into a partitioned local data lake.
//
// Layout under the base directory:
//
//	raw/<source>/<year>/<month>/<file>
//	curated/<domain>/<dataset>/year=<Y>/month=<M>/<base>_<YYYYMMDD>.<ext>
//	manifests/<domain>/<dataset>/<source>_<YYYYMMDD_HHMMSS>[_n].json
//
// Rewriting the same raw filename or curated date replaces the previous file.
// Manifests are never overwritten.
package lake

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/formats/columnar"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"github.com/ajitpratap0/finlake/pkg/models"
	"go.uber.org/zap"
)

// Config configures the lake layout and curated file encoding.
type Config struct {
	BaseDir     string `yaml:"base_dir" mapstructure:"base_dir"`
	RawDir      string `yaml:"raw_dir" mapstructure:"raw_dir"`
	CuratedDir  string `yaml:"curated_dir" mapstructure:"curated_dir"`
	ManifestDir string `yaml:"manifest_dir" mapstructure:"manifest_dir"`
	Format      string `yaml:"format" mapstructure:"format"`
	Compression string `yaml:"compression" mapstructure:"compression"`
}

// DefaultConfig returns a snappy Parquet lake under ./data.
func DefaultConfig() Config {
	return Config{
		BaseDir:     "./data",
		RawDir:      "raw",
		CuratedDir:  "curated",
		ManifestDir: "manifests",
		Format:      string(columnar.Parquet),
		Compression: "snappy",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New(errors.ErrorTypeConfig, "lake base_dir is required")
	}
	format, err := columnar.ParseFormat(c.Format)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid lake format")
	}
	wc := columnar.WriterConfig{Format: format, Compression: c.Compression}
	if err := wc.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid lake compression")
	}
	return nil
}

// FileMetadata describes one persisted artifact as recorded in a manifest.
type FileMetadata struct {
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	SHA256    string    `json:"sha256"`
	Rows      int64     `json:"rows"`
	Columns   int       `json:"columns"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// DatasetInfo summarises one curated dataset directory.
type DatasetInfo struct {
	Domain     string `json:"domain"`
	Dataset    string `json:"dataset"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
	Path       string `json:"path"`
}

// Stats summarises lake contents.
type Stats struct {
	BaseDir      string `json:"base_dir"`
	Datasets     int    `json:"datasets"`
	CuratedFiles int    `json:"curated_files"`
	RawFiles     int    `json:"raw_files"`
	Manifests    int    `json:"manifests"`
	TotalBytes   int64  `json:"total_bytes"`
}

// Lake owns the partition layout and the manifest directory.
type Lake struct {
	config     Config
	rawDir     string
	curatedDir string
	manifDir   string
	writer     columnar.WriterConfig
	clock      func() time.Time
	logger     *zap.Logger

	// manifestMu makes manifest name selection and creation atomic within the process.
	manifestMu sync.Mutex
}

// Option configures a Lake.
type Option func(*Lake)

// WithClock overrides the clock used for manifest names and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Lake) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates the lake directories and returns a Lake.
func New(config Config, logger *zap.Logger, opts ...Option) (*Lake, error) {
	defaults := DefaultConfig()
	if config.RawDir == "" {
		config.RawDir = defaults.RawDir
	}
	if config.CuratedDir == "" {
		config.CuratedDir = defaults.CuratedDir
	}
	if config.ManifestDir == "" {
		config.ManifestDir = defaults.ManifestDir
	}
	if config.Compression == "" {
		config.Compression = defaults.Compression
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	format, _ := columnar.ParseFormat(config.Format)

	l := &Lake{
		config:     config,
		rawDir:     filepath.Join(config.BaseDir, config.RawDir),
		curatedDir: filepath.Join(config.BaseDir, config.CuratedDir),
		manifDir:   filepath.Join(config.BaseDir, config.ManifestDir),
		writer: columnar.WriterConfig{
			Format:      format,
			Compression: config.Compression,
			BatchSize:   columnar.DefaultWriterConfig().BatchSize,
		},
		clock:  time.Now,
		logger: logger.With(zap.String("component", "lake")),
	}
	for _, opt := range opts {
		opt(l)
	}

	for _, dir := range []string{l.rawDir, l.curatedDir, l.manifDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create lake directory")
		}
	}
	return l, nil
}

// BaseDir returns the lake root.
func (l *Lake) BaseDir() string { return l.config.BaseDir }

// RawDir returns the raw zone root.
func (l *Lake) RawDir() string { return l.rawDir }

// CuratedDir returns the curated zone root.
func (l *Lake) CuratedDir() string { return l.curatedDir }

// ManifestDir returns the manifest root.
func (l *Lake) ManifestDir() string { return l.manifDir }

// Format returns the curated file format.
func (l *Lake) Format() columnar.Format { return l.writer.Format }

// SaveRaw stores content under raw/<source>/<year>/<month>/<filename>.
func (l *Lake) SaveRaw(source, filename string, content []byte, date time.Time) (string, error) {
	if err := checkSegments(source, filename); err != nil {
		return "", err
	}
	timer := metrics.NewTimer("save_raw")

	dir := filepath.Join(l.rawDir, source, strconv.Itoa(date.Year()), strconv.Itoa(int(date.Month())))
	path := filepath.Join(dir, filename)

	err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
	observeWrite("raw", int64(len(content)), timer, err)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to save raw file")
	}

	l.logger.Info("saved raw file", zap.String("path", path), zap.Int("bytes", len(content)))
	return path, nil
}

// SaveCurated writes table as
// curated/<domain>/<dataset>/year=<Y>/month=<M>/<baseName>_<YYYYMMDD>.<ext>.
// An empty baseName defaults to "data".
func (l *Lake) SaveCurated(domain, dataset string, table *models.Table, date time.Time, baseName string) (string, error) {
	if baseName == "" {
		baseName = "data"
	}
	if err := checkSegments(domain, dataset, baseName); err != nil {
		return "", err
	}
	if table == nil {
		return "", errors.New(errors.ErrorTypeValidation, "table is nil")
	}
	timer := metrics.NewTimer("save_curated")

	dir := filepath.Join(l.curatedDir, domain, dataset,
		fmt.Sprintf("year=%d", date.Year()),
		fmt.Sprintf("month=%d", int(date.Month())))
	name := fmt.Sprintf("%s_%s%s", baseName, date.Format("20060102"), columnar.Extension(l.writer.Format))
	path := filepath.Join(dir, name)

	var written int64
	err := writeFileAtomic(path, func(w io.Writer) error {
		n, err := columnar.WriteTable(w, table, &l.writer)
		written = n
		return err
	})
	observeWrite("curated", written, timer, err)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to save curated file")
	}

	l.logger.Info("saved curated file",
		zap.String("path", path),
		zap.Int("rows", table.NumRows()),
		zap.Int64("bytes", written))
	return path, nil
}

// GetFileMetadata hashes the file and reads its shape. Files that are not
// columnar artifacts report zero rows and columns.
func (l *Lake) GetFileMetadata(path string) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat file")
	}
	sum, err := sha256File(path)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to hash file")
	}

	md := FileMetadata{
		Name:      filepath.Base(path),
		SHA256:    sum,
		SizeBytes: info.Size(),
		CreatedAt: l.clock().UTC(),
	}
	if rel, err := filepath.Rel(l.config.BaseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		md.Path = filepath.ToSlash(rel)
	}
	if _, ok := columnar.FormatFromPath(path); ok {
		rows, cols, err := columnar.Shape(path)
		if err != nil {
			return FileMetadata{}, errors.Wrap(err, errors.ErrorTypeData, "failed to read artifact shape")
		}
		md.Rows = rows
		md.Columns = cols
	}
	return md, nil
}

// LoadCurated reads every partition file of a dataset and concatenates them
// in path order. Columns are unioned by name; values missing from a file are
// nil. A column typed differently across files is widened (see widen). A
// dataset without files yields an empty table.
func (l *Lake) LoadCurated(domain, dataset string) (*models.Table, error) {
	if err := checkSegments(domain, dataset); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.curatedDir, domain, dataset)
	files, err := artifactFiles(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list dataset files")
	}
	if len(files) == 0 {
		l.logger.Warn("no curated files found", zap.String("domain", domain), zap.String("dataset", dataset))
		return &models.Table{}, nil
	}

	l.logger.Debug("loading curated dataset", zap.String("dataset", dataset), zap.Int("files", len(files)))

	out := &models.Table{}
	for _, f := range files {
		part, err := columnar.ReadFile(f)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read "+f)
		}
		concat(out, part)
	}
	return out, nil
}

// ListDatasets lists curated datasets holding at least one artifact. An empty
// domain lists every domain.
func (l *Lake) ListDatasets(domain string) ([]DatasetInfo, error) {
	var domains []string
	if domain != "" {
		if err := checkSegments(domain); err != nil {
			return nil, err
		}
		domains = []string{domain}
	} else {
		entries, err := os.ReadDir(l.curatedDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list domains")
		}
		for _, e := range entries {
			if e.IsDir() {
				domains = append(domains, e.Name())
			}
		}
	}

	var out []DatasetInfo
	for _, d := range domains {
		entries, err := os.ReadDir(filepath.Join(l.curatedDir, d))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list datasets")
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(l.curatedDir, d, e.Name())
			files, err := artifactFiles(dir)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list dataset files")
			}
			if len(files) == 0 {
				continue
			}
			info := DatasetInfo{Domain: d, Dataset: e.Name(), FileCount: len(files), Path: dir}
			for _, f := range files {
				if st, err := os.Stat(f); err == nil {
					info.TotalBytes += st.Size()
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// Stats walks the lake and summarises its contents.
func (l *Lake) Stats() (Stats, error) {
	st := Stats{BaseDir: l.config.BaseDir}

	datasets, err := l.ListDatasets("")
	if err != nil {
		return st, err
	}
	st.Datasets = len(datasets)
	for _, d := range datasets {
		st.CuratedFiles += d.FileCount
		st.TotalBytes += d.TotalBytes
	}

	count := func(root string, match func(string) bool) (int, int64, error) {
		var n int
		var size int64
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || isTemp(path) || !match(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			n++
			size += info.Size()
			return nil
		})
		return n, size, err
	}

	rawFiles, rawBytes, err := count(l.rawDir, func(string) bool { return true })
	if err != nil {
		return st, errors.Wrap(err, errors.ErrorTypeFile, "failed to walk raw zone")
	}
	manifests, manifestBytes, err := count(l.manifDir, func(p string) bool { return filepath.Ext(p) == ".json" })
	if err != nil {
		return st, errors.Wrap(err, errors.ErrorTypeFile, "failed to walk manifests")
	}
	st.RawFiles = rawFiles
	st.Manifests = manifests
	st.TotalBytes += rawBytes + manifestBytes
	return st, nil
}

// artifactFiles returns every columnar file under dir, sorted by path.
func artifactFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || isTemp(path) {
			return nil
		}
		if _, ok := columnar.FormatFromPath(path); ok {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// concat appends src rows to dst, unioning columns by name.
func concat(dst, src *models.Table) {
	if len(dst.Columns) == 0 && len(dst.Rows) == 0 {
		dst.Columns = append(dst.Columns, src.Columns...)
		dst.Rows = append(dst.Rows, src.Rows...)
		return
	}

	mapping := make([]int, len(src.Columns))
	for i, c := range src.Columns {
		idx := dst.ColumnIndex(c.Name)
		if idx < 0 {
			dst.Columns = append(dst.Columns, c)
			for r := range dst.Rows {
				dst.Rows[r] = append(dst.Rows[r], nil)
			}
			idx = len(dst.Columns) - 1
		} else if have := dst.Columns[idx].Type; have != c.Type {
			if w := widen(have, c.Type); w != have {
				for r := range dst.Rows {
					dst.Rows[r][idx] = convertValue(dst.Rows[r][idx], have, w)
				}
				dst.Columns[idx].Type = w
			}
		}
		mapping[i] = idx
	}

	for _, row := range src.Rows {
		out := make([]interface{}, len(dst.Columns))
		for i, v := range row {
			out[mapping[i]] = convertValue(v, src.Columns[i].Type, dst.Columns[mapping[i]].Type)
		}
		dst.Rows = append(dst.Rows, out)
	}
}

// widen returns the narrowest type holding values of both a and b. Ints
// widen to float, dates to timestamps, and any other mix to string.
func widen(a, b models.FieldType) models.FieldType {
	numeric := func(t models.FieldType) bool { return t == models.FieldTypeInt || t == models.FieldTypeFloat }
	temporal := func(t models.FieldType) bool { return t == models.FieldTypeDate || t == models.FieldTypeTimestamp }
	switch {
	case a == b:
		return a
	case numeric(a) && numeric(b):
		return models.FieldTypeFloat
	case temporal(a) && temporal(b):
		return models.FieldTypeTimestamp
	default:
		return models.FieldTypeString
	}
}

// convertValue re-types v from a column of type from to one of type to.
func convertValue(v interface{}, from, to models.FieldType) interface{} {
	if v == nil || from == to {
		return v
	}
	switch to {
	case models.FieldTypeFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case models.FieldTypeString:
		switch x := v.(type) {
		case string:
			return x
		case time.Time:
			if from == models.FieldTypeDate {
				return x.Format("2006-01-02")
			}
			return x.Format(time.RFC3339Nano)
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Sprint(x)
		}
	}
	return v
}

// checkSegments rejects names that would escape their partition.
func checkSegments(names ...string) error {
	for _, n := range names {
		if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) {
			return errors.Newf(errors.ErrorTypeValidation, "invalid path segment %q", n)
		}
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isTemp(path string) bool {
	return strings.HasSuffix(path, ".tmp")
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func observeWrite(kind string, bytes int64, timer *metrics.Timer, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LakeWrites.WithLabelValues(kind, status).Inc()
	metrics.LakeWriteLatency.WithLabelValues(kind).Observe(timer.Stop().Seconds())
	if err == nil {
		metrics.LakeBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}
