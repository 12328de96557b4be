package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func curatedTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "market_data/t1/year=2024/month=1/data_20240115.parquet", "aaaa")
	writeFile(t, dir, "macro/selic/year=2024/month=2/data_20240201.parquet", "bbbbbb")
	writeFile(t, dir, "macro/selic/year=2024/month=2/notes.txt", "ignored")
	return dir
}

func TestSyncUploadsThenSkipsByName(t *testing.T) {
	src := curatedTree(t)
	store, err := NewLocalStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	syncer := NewSyncer(store, zaptest.NewLogger(t))

	res, err := syncer.Sync(context.Background(), src, "lake", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, int64(10), res.TotalBytes)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "lake/macro/selic/year=2024/month=2/data_20240201.parquet", res.Files[0].Key)

	ok, err := store.Exists(context.Background(), "lake/market_data/t1/year=2024/month=1/data_20240115.parquet")
	require.NoError(t, err)
	assert.True(t, ok)

	// A changed local file with the same name is still skipped.
	writeFile(t, src, "market_data/t1/year=2024/month=1/data_20240115.parquet", "changed")
	res, err = syncer.Sync(context.Background(), src, "lake", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 2, res.Skipped)

	data, err := os.ReadFile(filepath.Join(store.dir, "lake/market_data/t1/year=2024/month=1/data_20240115.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(data))
}

func TestSyncDryRun(t *testing.T) {
	src := curatedTree(t)
	store, err := NewLocalStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := NewSyncer(store, zaptest.NewLogger(t)).Sync(context.Background(), src, "", true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 2, res.Skipped)
	for _, f := range res.Files {
		assert.Equal(t, ActionPlanned, f.Action)
	}

	ok, err := store.Exists(context.Background(), "market_data/t1/year=2024/month=1/data_20240115.parquet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncMissingDirectory(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := NewSyncer(store, zaptest.NewLogger(t)).Sync(context.Background(), filepath.Join(t.TempDir(), "nope"), "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Uploaded+res.Skipped+res.Errors)
}

type flakyStore struct {
	mu       sync.Mutex
	uploaded []string
	failKey  string
}

func (f *flakyStore) Name() string { return "flaky" }

func (f *flakyStore) Exists(_ context.Context, key string) (bool, error) {
	if strings.Contains(key, "selic") {
		return false, fmt.Errorf("boom")
	}
	return false, nil
}

func (f *flakyStore) Upload(_ context.Context, key, _ string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failKey {
		return "", fmt.Errorf("upload refused")
	}
	f.uploaded = append(f.uploaded, key)
	return "id-" + key, nil
}

func (f *flakyStore) Close() error { return nil }

func TestSyncCountsErrorsAndContinues(t *testing.T) {
	src := curatedTree(t)
	writeFile(t, src, "market_data/t2/year=2024/month=1/data_20240115.arrow", "cc")
	store := &flakyStore{failKey: "market_data/t2/year=2024/month=1/data_20240115.arrow"}

	res, err := NewSyncer(store, zaptest.NewLogger(t)).Sync(context.Background(), src, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, []string{"market_data/t1/year=2024/month=1/data_20240115.parquet"}, store.uploaded)
}

func TestSyncCustomPatterns(t *testing.T) {
	src := curatedTree(t)
	store := &flakyStore{}
	res, err := NewSyncer(store, zaptest.NewLogger(t), "*.txt").Sync(context.Background(), src, "p", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors) // notes.txt lives under selic
	assert.Empty(t, store.uploaded)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a/b.parquet", objectKey("", "a/b.parquet"))
	assert.Equal(t, "lake/a/b.parquet", objectKey("/lake/", `a\b.parquet`))
	assert.Equal(t, "x/y/a.parquet", objectKey("x/y", "a.parquet"))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Backend: BackendS3}.Validate())
	assert.Error(t, Config{Backend: BackendGCS}.Validate())
	assert.Error(t, Config{Backend: BackendDrive, FolderID: "f"}.Validate())
	assert.NoError(t, Config{Backend: BackendDrive, FolderID: "f", CredentialsFile: "sa.json"}.Validate())
	assert.Error(t, Config{Backend: "ftp"}.Validate())
}

func TestS3Store(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			if _, ok := objects[r.URL.Path]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	store := newS3Store(client, Config{Bucket: "lake"}, zaptest.NewLogger(t))

	ctx := context.Background()
	ok, err := store.Exists(ctx, "macro/a.parquet")
	require.NoError(t, err)
	assert.False(t, ok)

	local := filepath.Join(t.TempDir(), "a.parquet")
	require.NoError(t, os.WriteFile(local, []byte("PAR1"), 0o644))
	_, err = store.Upload(ctx, "macro/a.parquet", local, map[string]string{"local_path": "a.parquet"})
	require.NoError(t, err)

	ok, err = store.Exists(ctx, "macro/a.parquet")
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	assert.Equal(t, []byte("PAR1"), objects["/lake/macro/a.parquet"])
	mu.Unlock()
}

func TestDriveStoreExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(q, "name = 'macro'") && strings.Contains(q, "'root-id' in parents"):
			fmt.Fprint(w, `{"files":[{"id":"macro-id","name":"macro"}]}`)
		case strings.Contains(q, "name = 'a.parquet'") && strings.Contains(q, "'macro-id' in parents"):
			fmt.Fprint(w, `{"files":[{"id":"file-id","name":"a.parquet"}]}`)
		default:
			fmt.Fprint(w, `{"files":[]}`)
		}
	}))
	defer srv.Close()

	store, err := NewDriveStore(context.Background(),
		Config{Backend: BackendDrive, FolderID: "root-id"},
		zaptest.NewLogger(t),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "macro/a.parquet")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "macro/b.parquet")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Exists(context.Background(), "fundamentals/x/c.parquet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
}
