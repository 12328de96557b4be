package lake

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLake(t *testing.T, opts ...Option) *Lake {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	l, err := New(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return l
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// table5x3 builds a 5 row, 3 column table.
func table5x3(t *testing.T) *models.Table {
	t.Helper()
	table := models.NewTable(
		models.Column{Name: "date", Type: models.FieldTypeDate},
		models.Column{Name: "ticker", Type: models.FieldTypeString},
		models.Column{Name: "close", Type: models.FieldTypeFloat},
	)
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, table.AppendRow(base.AddDate(0, 0, i), "VALE3", 60.0+float64(i)))
	}
	return table
}

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestNewCreatesZones(t *testing.T) {
	l := newTestLake(t)
	for _, dir := range []string{l.RawDir(), l.CuratedDir(), l.ManifestDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Format = "arrow"
	cfg.Compression = "snappy"
	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg.BaseDir = ""
	cfg.Format = "parquet"
	_, err = New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSaveRawPartitioning(t *testing.T) {
	l := newTestLake(t)

	path, err := l.SaveRaw("src", "f.txt", []byte("hello"), time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.RawDir(), "src", "2024", "3", "f.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Same filename replaces the content.
	_, err = l.SaveRaw("src", "f.txt", []byte("again"), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))
}

func TestSaveRawRejectsTraversal(t *testing.T) {
	l := newTestLake(t)
	_, err := l.SaveRaw("src", "../escape.txt", []byte("x"), jan15)
	assert.Error(t, err)
	_, err = l.SaveRaw("..", "f.txt", []byte("x"), jan15)
	assert.Error(t, err)
}

func TestCuratedRoundTrip(t *testing.T) {
	l := newTestLake(t)

	path, err := l.SaveCurated("market_data", "t1", table5x3(t), jan15, "")
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(l.CuratedDir(), "market_data", "t1", "year=2024", "month=1", "data_20240115.parquet"),
		path)

	loaded, err := l.LoadCurated("market_data", "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.NumRows())
	assert.Equal(t, []string{"date", "ticker", "close"}, loaded.ColumnNames())

	v, ok := loaded.Value(4, "close")
	require.True(t, ok)
	assert.Equal(t, 64.0, v)
}

func TestCuratedRerunOverwrites(t *testing.T) {
	l := newTestLake(t)

	_, err := l.SaveCurated("market_data", "t1", table5x3(t), jan15, "prices")
	require.NoError(t, err)
	_, err = l.SaveCurated("market_data", "t1", table5x3(t), jan15, "prices")
	require.NoError(t, err)

	loaded, err := l.LoadCurated("market_data", "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.NumRows())
}

func TestLoadCuratedConcatenatesPartitions(t *testing.T) {
	l := newTestLake(t)

	_, err := l.SaveCurated("macro", "selic", table5x3(t), jan15, "")
	require.NoError(t, err)
	_, err = l.SaveCurated("macro", "selic", table5x3(t), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)

	extra := models.NewTable(
		models.Column{Name: "ticker", Type: models.FieldTypeString},
		models.Column{Name: "volume", Type: models.FieldTypeInt},
	)
	require.NoError(t, extra.AppendRow("ITUB4", int64(10)))
	_, err = l.SaveCurated("macro", "selic", extra, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)

	loaded, err := l.LoadCurated("macro", "selic")
	require.NoError(t, err)
	assert.Equal(t, 11, loaded.NumRows())
	assert.Equal(t, []string{"date", "ticker", "close", "volume"}, loaded.ColumnNames())

	last := loaded.Rows[10]
	assert.Nil(t, last[0])
	assert.Equal(t, "ITUB4", last[1])
	assert.Equal(t, int64(10), last[3])
	assert.Nil(t, loaded.Rows[0][3])
}

func TestLoadCuratedWidensMismatchedColumns(t *testing.T) {
	l := newTestLake(t)

	jan := models.NewTable(
		models.Column{Name: "value", Type: models.FieldTypeInt},
		models.Column{Name: "code", Type: models.FieldTypeInt},
	)
	require.NoError(t, jan.AppendRow(int64(3), int64(7)))
	_, err := l.SaveCurated("macro", "mixed", jan, jan15, "")
	require.NoError(t, err)

	feb := models.NewTable(
		models.Column{Name: "value", Type: models.FieldTypeFloat},
		models.Column{Name: "code", Type: models.FieldTypeString},
	)
	require.NoError(t, feb.AppendRow(2.5, "A1"))
	_, err = l.SaveCurated("macro", "mixed", feb, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)

	loaded, err := l.LoadCurated("macro", "mixed")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.NumRows())
	require.NoError(t, loaded.Validate())

	assert.Equal(t, models.FieldTypeFloat, loaded.Columns[loaded.ColumnIndex("value")].Type)
	assert.Equal(t, models.FieldTypeString, loaded.Columns[loaded.ColumnIndex("code")].Type)
	assert.Equal(t, []interface{}{3.0, "7"}, loaded.Rows[0])
	assert.Equal(t, []interface{}{2.5, "A1"}, loaded.Rows[1])
}

func TestConcatWidening(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	dst := models.NewTable(
		models.Column{Name: "d", Type: models.FieldTypeDate},
		models.Column{Name: "flag", Type: models.FieldTypeBool},
		models.Column{Name: "at", Type: models.FieldTypeDate},
	)
	require.NoError(t, dst.AppendRow(day, true, day))
	src := models.NewTable(
		models.Column{Name: "d", Type: models.FieldTypeString},
		models.Column{Name: "flag", Type: models.FieldTypeFloat},
		models.Column{Name: "at", Type: models.FieldTypeTimestamp},
	)
	require.NoError(t, src.AppendRow("n/a", 1.25, nil))

	concat(dst, src)
	require.NoError(t, dst.Validate())
	assert.Equal(t, models.FieldTypeString, dst.Columns[0].Type)
	assert.Equal(t, models.FieldTypeString, dst.Columns[1].Type)
	assert.Equal(t, models.FieldTypeTimestamp, dst.Columns[2].Type)
	assert.Equal(t, []interface{}{"2024-01-02", "true", day}, dst.Rows[0])
	assert.Equal(t, []interface{}{"n/a", "1.25", nil}, dst.Rows[1])
}

func TestLoadCuratedMissingDataset(t *testing.T) {
	l := newTestLake(t)
	loaded, err := l.LoadCurated("macro", "nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.NumRows())
	assert.Equal(t, 0, loaded.NumColumns())
}

func TestArrowFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Format = "arrow"
	cfg.Compression = "zstd"
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	path, err := l.SaveCurated("market_data", "t1", table5x3(t), jan15, "")
	require.NoError(t, err)
	assert.Equal(t, ".arrow", filepath.Ext(path))

	md, err := l.GetFileMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.Rows)
	assert.Equal(t, 3, md.Columns)

	loaded, err := l.LoadCurated("market_data", "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.NumRows())
}

func TestGetFileMetadata(t *testing.T) {
	now := time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC)
	l := newTestLake(t, WithClock(fixedClock(now)))

	curated, err := l.SaveCurated("market_data", "t1", table5x3(t), jan15, "")
	require.NoError(t, err)
	md, err := l.GetFileMetadata(curated)
	require.NoError(t, err)
	assert.Equal(t, "data_20240115.parquet", md.Name)
	assert.Equal(t, "curated/market_data/t1/year=2024/month=1/data_20240115.parquet", md.Path)
	assert.Equal(t, int64(5), md.Rows)
	assert.Equal(t, 3, md.Columns)
	assert.Len(t, md.SHA256, 64)
	assert.Equal(t, now, md.CreatedAt)

	info, err := os.Stat(curated)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), md.SizeBytes)

	raw, err := l.SaveRaw("src", "f.txt", []byte("hello"), jan15)
	require.NoError(t, err)
	md, err = l.GetFileMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), md.Rows)
	assert.Equal(t, 0, md.Columns)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", md.SHA256)
	assert.Equal(t, int64(5), md.SizeBytes)

	_, err = l.GetFileMetadata(filepath.Join(l.BaseDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestSaveManifest(t *testing.T) {
	now := time.Date(2024, 1, 16, 9, 30, 5, 0, time.UTC)
	l := newTestLake(t, WithClock(fixedClock(now)))

	files := []FileMetadata{
		{Name: "a.parquet", SHA256: "aa", Rows: 1, Columns: 1, SizeBytes: 10, CreatedAt: now},
		{Name: "b.parquet", SHA256: "bb", Rows: 2, Columns: 1, SizeBytes: 20, CreatedAt: now},
	}
	path, err := l.SaveManifest(ManifestInput{
		Source:      "bcb",
		Dataset:     "selic_meta",
		Domain:      "macro",
		PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Files:       files,
		SourceURL:   "https://api.bcb.gov.br",
		RunID:       "run-1",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.ManifestDir(), "macro", "selic_meta", "bcb_20240116_093005.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(2), raw["file_count"])
	assert.Equal(t, "1.0", raw["schema_version"])
	assert.Equal(t, "success", raw["ingestion_status"])
	assert.Equal(t, "2024-01-01", raw["period_start"])
	assert.Equal(t, "2024-01-31", raw["period_end"])
	assert.Equal(t, "run-1", raw["run_id"])

	m, err := l.LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.FileCount)
	assert.Len(t, m.Files, 2)
	assert.True(t, m.IngestionTimestamp.Equal(now))
}

func TestSaveManifestNeverOverwrites(t *testing.T) {
	now := time.Date(2024, 1, 16, 9, 30, 5, 0, time.UTC)
	l := newTestLake(t, WithClock(fixedClock(now)))

	in := ManifestInput{Source: "fred", Dataset: "cpi", Domain: "macro"}
	p1, err := l.SaveManifest(in)
	require.NoError(t, err)
	p2, err := l.SaveManifest(in)
	require.NoError(t, err)
	p3, err := l.SaveManifest(in)
	require.NoError(t, err)

	assert.Equal(t, "fred_20240116_093005.json", filepath.Base(p1))
	assert.Equal(t, "fred_20240116_093005_1.json", filepath.Base(p2))
	assert.Equal(t, "fred_20240116_093005_2.json", filepath.Base(p3))

	m, err := l.LoadManifest(p1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.FileCount)
	assert.NotNil(t, m.Files)

	paths, err := l.ListManifests("macro", "cpi")
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	all, err := l.ListManifests("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVerifyManifest(t *testing.T) {
	l := newTestLake(t)

	curated, err := l.SaveCurated("market_data", "t1", table5x3(t), jan15, "")
	require.NoError(t, err)
	raw, err := l.SaveRaw("b3", "COTAHIST_A2024.ZIP", []byte("zip"), jan15)
	require.NoError(t, err)

	var files []FileMetadata
	for _, p := range []string{curated, raw} {
		md, err := l.GetFileMetadata(p)
		require.NoError(t, err)
		files = append(files, md)
	}
	// Without a recorded path the file is found by name.
	files[1].Path = ""

	path, err := l.SaveManifest(ManifestInput{Source: "b3", Dataset: "t1", Domain: "market_data", Files: files})
	require.NoError(t, err)

	v, err := l.VerifyManifest(path)
	require.NoError(t, err)
	assert.True(t, v.OK(), "%+v", v.Mismatches)
	assert.Equal(t, 2, v.Checked)

	require.NoError(t, os.WriteFile(raw, []byte("tampered"), 0o644))
	require.NoError(t, os.Remove(curated))

	v, err = l.VerifyManifest(path)
	require.NoError(t, err)
	require.Len(t, v.Mismatches, 2)
	assert.Equal(t, "missing", v.Mismatches[0].Reason)
	assert.Equal(t, "sha256 mismatch", v.Mismatches[1].Reason)
}

func TestListDatasetsAndStats(t *testing.T) {
	l := newTestLake(t)

	_, err := l.SaveCurated("market_data", "dataset1", table5x3(t), jan15, "")
	require.NoError(t, err)
	_, err = l.SaveCurated("fundamentals", "dataset2", table5x3(t), jan15, "")
	require.NoError(t, err)
	_, err = l.SaveCurated("fundamentals", "dataset2", table5x3(t), jan15.AddDate(0, 1, 0), "")
	require.NoError(t, err)
	// A dataset directory without artifacts is not listed.
	require.NoError(t, os.MkdirAll(filepath.Join(l.CuratedDir(), "macro", "empty", "year=2024"), 0o755))

	all, err := l.ListDatasets("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	market, err := l.ListDatasets("market_data")
	require.NoError(t, err)
	require.Len(t, market, 1)
	assert.Equal(t, "dataset1", market[0].Dataset)
	assert.Equal(t, "market_data", market[0].Domain)
	assert.Equal(t, 1, market[0].FileCount)

	fundamentals, err := l.ListDatasets("fundamentals")
	require.NoError(t, err)
	require.Len(t, fundamentals, 1)
	assert.Equal(t, 2, fundamentals[0].FileCount)

	none, err := l.ListDatasets("unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = l.SaveRaw("src", "f.txt", []byte("x"), jan15)
	require.NoError(t, err)
	_, err = l.SaveManifest(ManifestInput{Source: "src", Dataset: "dataset1", Domain: "market_data"})
	require.NoError(t, err)

	st, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Datasets)
	assert.Equal(t, 3, st.CuratedFiles)
	assert.Equal(t, 1, st.RawFiles)
	assert.Equal(t, 1, st.Manifests)
	assert.Greater(t, st.TotalBytes, int64(0))
}
