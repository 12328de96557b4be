// Package config holds the finlake configuration. Every subsystem owns its
// own section type; this package assembles them, supplies defaults and
// validates the result.
//
// Configuration sources, in increasing precedence:
//   - built-in defaults (Default)
//   - a YAML file, with ${VAR} references replaced from the environment
//   - FINLAKE_* environment variables, e.g. FINLAKE_LAKE_BASE_DIR
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/finlake/pkg/cache"
	"github.com/ajitpratap0/finlake/pkg/catalog"
	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/compression"
	"github.com/ajitpratap0/finlake/pkg/lake"
	"github.com/ajitpratap0/finlake/pkg/logger"
	"github.com/ajitpratap0/finlake/pkg/observability"
	"github.com/ajitpratap0/finlake/pkg/remote"
)

// Config is the complete application configuration.
type Config struct {
	Lake          lake.Config         `yaml:"lake" mapstructure:"lake"`
	Cache         cache.Config        `yaml:"cache" mapstructure:"cache"`
	Fetch         FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	HTTP          clients.HTTPConfig  `yaml:"http" mapstructure:"http"`
	Sync          remote.Config       `yaml:"sync" mapstructure:"sync"`
	Catalog       catalog.Config      `yaml:"catalog" mapstructure:"catalog"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Logging       logger.Config       `yaml:"logging" mapstructure:"logging"`
	Ingest        IngestConfig        `yaml:"ingest" mapstructure:"ingest"`
}

// FetchConfig holds per-source protective budgets.
type FetchConfig struct {
	// Sources overrides the built-in presets by source id.
	Sources map[string]clients.SourceLimits `yaml:"sources" mapstructure:"sources"`
}

// LimitsFor returns the configured budget for source, falling back to the
// built-in preset.
func (f FetchConfig) LimitsFor(source string) clients.SourceLimits {
	if l, ok := f.Sources[source]; ok {
		return l
	}
	return clients.PresetFor(source)
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when non-empty, e.g. ":9090".
	MetricsAddr string                      `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	Tracing     observability.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// IngestConfig controls ingestion runs.
type IngestConfig struct {
	// Concurrency is the number of sources ingested in parallel.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// Sources are ingested by "ingest --all" and "run"; empty means every
	// registered source.
	Sources []string `yaml:"sources" mapstructure:"sources"`
	// LookbackDays sets the default period start when --from is omitted.
	LookbackDays int  `yaml:"lookback_days" mapstructure:"lookback_days"`
	UseCache     bool `yaml:"use_cache" mapstructure:"use_cache"`
	// SyncAfter makes "run" push curated files after ingesting.
	SyncAfter bool `yaml:"sync_after" mapstructure:"sync_after"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Lake:    lake.DefaultConfig(),
		Cache:   cache.DefaultConfig(),
		Fetch:   FetchConfig{Sources: clients.Presets()},
		HTTP:    *clients.DefaultHTTPConfig(),
		Sync:    remote.DefaultConfig(),
		Catalog: catalog.DefaultConfig(),
		Observability: ObservabilityConfig{
			Tracing: observability.DefaultTracingConfig(),
		},
		Logging: logger.Config{Level: "info", Encoding: "console"},
		Ingest: IngestConfig{
			Concurrency:  3,
			LookbackDays: 30,
			UseCache:     true,
			SyncAfter:    false,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Lake.Validate(); err != nil {
		return fmt.Errorf("lake: %w", err)
	}
	if c.Cache.Enabled {
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache: dir is required")
		}
		if c.Cache.TTL < 0 {
			return fmt.Errorf("cache: ttl cannot be negative")
		}
		if _, err := compression.ParseAlgorithm(c.Cache.Codec); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	for name, l := range c.Fetch.Sources {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("fetch.sources.%s: %w", name, err)
		}
	}
	if c.HTTP.RequestTimeout < 0 || c.HTTP.RequestTimeout > 10*time.Minute {
		return fmt.Errorf("http: request_timeout must be between 0 and 10m")
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest: concurrency must be at least 1")
	}
	if c.Ingest.LookbackDays < 0 {
		return fmt.Errorf("ingest: lookback_days cannot be negative")
	}
	return nil
}
