// Package catalog indexes manifests into a SQL database so run history can be
// queried without walking the manifest tree. SQLite is the default; Postgres
// and MySQL are supported through their database/sql drivers.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/lake"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Config configures the catalog.
type Config struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" mapstructure:"driver"`
	// DSN is the driver connection string. For sqlite it is a file path or ":memory:".
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// DefaultConfig returns an enabled SQLite catalog inside the lake directory.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Driver:  DriverSQLite,
		DSN:     "./data/catalog.db",
	}
}

// Validate checks the driver name.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown catalog driver %q (expected sqlite, postgres or mysql)", c.Driver)
	}
	if c.DSN == "" {
		return errors.New(errors.ErrorTypeConfig, "catalog dsn is required")
	}
	return nil
}

// Run is one indexed manifest.
type Run struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Source       string    `json:"source"`
	Dataset      string    `json:"dataset"`
	Domain       string    `json:"domain"`
	Status       string    `json:"status"`
	PeriodStart  string    `json:"period_start"`
	PeriodEnd    string    `json:"period_end"`
	FileCount    int       `json:"file_count"`
	Rows         int64     `json:"rows"`
	Bytes        int64     `json:"bytes"`
	ManifestPath string    `json:"manifest_path"`
	SourceURL    string    `json:"source_url"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// SourceSummary aggregates runs per source.
type SourceSummary struct {
	Source    string    `json:"source"`
	Runs      int       `json:"runs"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	Rows      int64     `json:"rows"`
	LastRun   time.Time `json:"last_run"`
}

// Catalog is a handle on the run database.
type Catalog struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driverName := cfg.Driver
	switch cfg.Driver {
	case DriverPostgres:
		driverName = "pgx"
	case DriverSQLite:
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create catalog directory")
			}
		}
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open catalog")
	}
	if cfg.Driver == DriverSQLite {
		// Avoids "database is locked" under concurrent ingestion.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping catalog")
	}

	c := &Catalog{db: db, driver: cfg.Driver, logger: logger.With(zap.String("component", "catalog"))}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to migrate catalog")
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate(ctx context.Context) error {
	stmts := []string{`CREATE TABLE IF NOT EXISTS ingestion_runs (
		id VARCHAR(36) PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL,
		source VARCHAR(64) NOT NULL,
		dataset VARCHAR(128) NOT NULL,
		domain VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		period_start VARCHAR(10) NOT NULL,
		period_end VARCHAR(10) NOT NULL,
		file_count INTEGER NOT NULL,
		row_count BIGINT NOT NULL,
		byte_count BIGINT NOT NULL,
		manifest_path TEXT NOT NULL,
		source_url TEXT NOT NULL,
		ingested_at VARCHAR(32) NOT NULL
	)`}
	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if c.driver != DriverMySQL {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_runs_source_time ON ingestion_runs (source, ingested_at)`)
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// RecordManifest indexes one manifest and returns the catalog row id.
func (c *Catalog) RecordManifest(ctx context.Context, manifestPath string, m *lake.Manifest) (string, error) {
	var rows, bytes int64
	for _, f := range m.Files {
		rows += f.Rows
		bytes += f.SizeBytes
	}

	id := uuid.New().String()
	_, err := c.db.ExecContext(ctx, c.rebind(`INSERT INTO ingestion_runs
		(id, run_id, source, dataset, domain, status, period_start, period_end,
		 file_count, row_count, byte_count, manifest_path, source_url, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, m.RunID, m.Source, m.Dataset, m.Domain, m.IngestionStatus, m.PeriodStart, m.PeriodEnd,
		m.FileCount, rows, bytes, manifestPath, m.SourceURL, m.IngestionTimestamp.UTC().Format(timeLayout))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeStorage, "failed to record manifest")
	}

	c.logger.Debug("indexed manifest", zap.String("id", id), zap.String("path", manifestPath))
	return id, nil
}

// RecentRuns returns the newest runs first. An empty source matches all.
func (c *Catalog) RecentRuns(ctx context.Context, source string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, run_id, source, dataset, domain, status, period_start, period_end,
		file_count, row_count, byte_count, manifest_path, source_url, ingested_at
		FROM ingestion_runs`
	var args []interface{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY ingested_at DESC, id LIMIT ` + strconv.Itoa(limit)

	rs, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to query runs")
	}
	defer rs.Close()

	var runs []Run
	for rs.Next() {
		var r Run
		var ingested string
		if err := rs.Scan(&r.ID, &r.RunID, &r.Source, &r.Dataset, &r.Domain, &r.Status,
			&r.PeriodStart, &r.PeriodEnd, &r.FileCount, &r.Rows, &r.Bytes,
			&r.ManifestPath, &r.SourceURL, &ingested); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to scan run")
		}
		r.IngestedAt, _ = time.Parse(timeLayout, ingested)
		runs = append(runs, r)
	}
	if err := rs.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read runs")
	}
	return runs, nil
}

// Summary aggregates runs by source, ordered by source name.
func (c *Catalog) Summary(ctx context.Context) ([]SourceSummary, error) {
	rs, err := c.db.QueryContext(ctx, c.rebind(`SELECT source,
		COUNT(*),
		SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = ? THEN 0 ELSE 1 END),
		SUM(row_count),
		MAX(ingested_at)
		FROM ingestion_runs GROUP BY source ORDER BY source`), lake.StatusSuccess, lake.StatusSuccess)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to summarise runs")
	}
	defer rs.Close()

	var out []SourceSummary
	for rs.Next() {
		var s SourceSummary
		var last string
		if err := rs.Scan(&s.Source, &s.Runs, &s.Successes, &s.Failures, &s.Rows, &last); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to scan summary")
		}
		s.LastRun, _ = time.Parse(timeLayout, last)
		out = append(out, s)
	}
	if err := rs.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read summary")
	}
	return out, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (c *Catalog) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
