package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "./data", cfg.Lake.BaseDir)
	assert.Equal(t, remote.BackendLocal, cfg.Sync.Backend)
	assert.Equal(t, clients.PresetFor("b3"), cfg.Fetch.LimitsFor("b3"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Ingest.Concurrency = 0 }},
		{"bad codec", func(c *Config) { c.Cache.Codec = "rar" }},
		{"bad limits", func(c *Config) { c.Fetch.Sources["bcb"] = clients.SourceLimits{} }},
		{"s3 without bucket", func(c *Config) { c.Sync.Backend = remote.BackendS3 }},
		{"bad format", func(c *Config) { c.Lake.Format = "orc" }},
		{"bad catalog driver", func(c *Config) { c.Catalog.Driver = "oracle" }},
		{"negative lookback", func(c *Config) { c.Ingest.LookbackDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Lake, cfg.Lake)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, clients.PresetFor("anbima"), cfg.Fetch.LimitsFor("anbima"))
}

func TestLoadFileWithEnvSubstitutionAndOverrides(t *testing.T) {
	t.Setenv("TEST_FINLAKE_BUCKET", "lake-bucket")
	t.Setenv("FINLAKE_INGEST_CONCURRENCY", "7")

	path := filepath.Join(t.TempDir(), "finlake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lake:
  base_dir: /srv/lake
  format: arrow
  compression: zstd
cache:
  ttl: 2h
fetch:
  sources:
    bcb:
      requests_per_minute: 10
      min_delay: 100ms
      max_delay: 200ms
      max_attempts: 2
sync:
  backend: s3
  bucket: ${TEST_FINLAKE_BUCKET}
  prefix: curated
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/lake", cfg.Lake.BaseDir)
	assert.Equal(t, "curated", cfg.Lake.CuratedDir)
	assert.Equal(t, "arrow", string(cfg.Lake.Format))
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "lake-bucket", cfg.Sync.Bucket)
	assert.Equal(t, remote.BackendS3, cfg.Sync.Backend)
	assert.Equal(t, 7, cfg.Ingest.Concurrency)

	bcb := cfg.Fetch.LimitsFor("bcb")
	assert.Equal(t, 10, bcb.RequestsPerMinute)
	assert.Equal(t, 100*time.Millisecond, bcb.MinDelay)
	assert.Equal(t, 2, bcb.MaxAttempts)
	// Fields not in the file keep the preset.
	assert.Equal(t, clients.PresetFor("bcb").BackoffMax, bcb.BackoffMax)
	assert.Equal(t, clients.PresetFor("fred"), cfg.Fetch.LimitsFor("fred"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  concurrency: 0\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "concurrency")
}

func TestWriteTemplateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finlake.yaml")
	require.NoError(t, WriteTemplate(path, false))
	assert.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FRED_API_KEY")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Ingest.Concurrency, cfg.Ingest.Concurrency)
	assert.Empty(t, cfg.Ingest.Sources)
	assert.Equal(t, Default().Fetch.Sources, cfg.Fetch.Sources)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_A", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${TEST_A}-${TEST_A}-${TEST_UNSET_VAR}"))
	assert.Equal(t, "no ${close", substituteEnvVars("no ${close"))
}
