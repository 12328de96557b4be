// Package pipeline drives ingestion runs: it builds one protected fetcher per
// source, fetches every selected dataset and persists the results to the
// lake, finishing each dataset with a manifest.
//
// # Basic Usage
//
//	p := pipeline.New(lk, httpClient, logger,
//	    pipeline.WithCache(respCache),
//	    pipeline.WithCatalog(cat),
//	    pipeline.WithConcurrency(3),
//	)
//	summary, err := p.Run(ctx, pipeline.Options{
//	    Sources:  []string{"bcb", "fred"},
//	    Start:    start,
//	    End:      end,
//	    UseCache: true,
//	})
//
// Sources run concurrently up to the configured limit; datasets of one
// source run sequentially so the source's rate limit is shared. A failing
// dataset or source never aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/finlake/pkg/catalog"
	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/lake"
	"github.com/ajitpratap0/finlake/pkg/logger"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"github.com/ajitpratap0/finlake/pkg/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs ingestions into a lake.
type Pipeline struct {
	lake     *lake.Lake
	http     *clients.HTTPClient
	logger   *zap.Logger
	registry *registry.Registry

	cache       clients.ResponseCache
	catalog     *catalog.Catalog
	concurrency int
	limits      func(source string) clients.SourceLimits
	getenv      func(string) string
	baseURLs    map[string]string
	tokenURLs   map[string]string
	fetcherOpts []clients.FetcherOption
	newRunID    func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache sets the response cache shared by every source.
func WithCache(c clients.ResponseCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithCatalog indexes every manifest into cat.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(p *Pipeline) { p.catalog = cat }
}

// WithConcurrency bounds the number of sources ingested at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLimits supplies per-source protective budgets.
func WithLimits(fn func(source string) clients.SourceLimits) Option {
	return func(p *Pipeline) { p.limits = fn }
}

// WithRegistry uses r instead of the global connector registry.
func WithRegistry(r *registry.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithGetenv sets the credential lookup passed to connectors.
func WithGetenv(fn func(string) string) Option {
	return func(p *Pipeline) { p.getenv = fn }
}

// WithEndpoint points source at baseURL (and tokenURL, when non-empty).
func WithEndpoint(source, baseURL, tokenURL string) Option {
	return func(p *Pipeline) {
		p.baseURLs[source] = baseURL
		if tokenURL != "" {
			p.tokenURLs[source] = tokenURL
		}
	}
}

// WithFetcherOptions appends options to every fetcher the pipeline builds.
func WithFetcherOptions(opts ...clients.FetcherOption) Option {
	return func(p *Pipeline) { p.fetcherOpts = append(p.fetcherOpts, opts...) }
}

// WithRunID fixes the run id generator.
func WithRunID(fn func() string) Option {
	return func(p *Pipeline) { p.newRunID = fn }
}

// New creates a pipeline writing into lk.
func New(lk *lake.Lake, http *clients.HTTPClient, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		lake:        lk,
		http:        http,
		logger:      log.With(zap.String("component", "pipeline")),
		registry:    registry.GetRegistry(),
		concurrency: 1,
		limits:      clients.PresetFor,
		baseURLs:    map[string]string{},
		tokenURLs:   map[string]string{},
		newRunID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests opts.Sources for [opts.Start, opts.End]. The returned error
// covers invalid options only; per-dataset failures are in the summary.
func (p *Pipeline) Run(ctx context.Context, opts Options) (summary *Summary, err error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "no sources selected")
	}
	if opts.End.Before(opts.Start) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "period end %s is before start %s",
			opts.End.Format("2006-01-02"), opts.Start.Format("2006-01-02"))
	}
	for _, s := range opts.Sources {
		if !p.registry.HasSource(s) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown source %q (available: %v)", s, p.registry.ListSources())
		}
	}

	runID := p.newRunID()
	started := time.Now()
	ctx = logger.ContextWith(ctx, logger.RunIDKey, runID)
	ctx, span := observability.StartSpan(ctx, "ingest.run",
		attribute.String("run_id", runID),
		attribute.StringSlice("sources", opts.Sources))
	defer func() { observability.EndSpan(span, err) }()

	log := logger.FromContext(p.logger, ctx)
	log.Info("starting ingestion run",
		zap.Strings("sources", opts.Sources),
		zap.Time("start", opts.Start),
		zap.Time("end", opts.End),
		zap.Int("concurrency", p.concurrency))

	var mu sync.Mutex
	perSource := make(map[string][]DatasetOutcome, len(opts.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, name := range opts.Sources {
		g.Go(func() error {
			outcomes := p.ingestSource(gctx, runID, name, opts)
			mu.Lock()
			perSource[name] = outcomes
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary = &Summary{RunID: runID, Start: opts.Start, End: opts.End}
	names := append([]string(nil), opts.Sources...)
	sort.Strings(names)
	for _, name := range names {
		for _, o := range perSource[name] {
			summary.add(o)
		}
	}
	summary.Duration = time.Since(started)

	span.SetAttributes(
		attribute.Int("succeeded", summary.Succeeded),
		attribute.Int("failed", summary.Failed))
	log.Info("ingestion run finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("no_data", summary.NoData),
		zap.Int64("rows", summary.Rows),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// ingestSource builds the source's fetcher and connector, then ingests its
// datasets one after another.
func (p *Pipeline) ingestSource(ctx context.Context, runID, name string, opts Options) []DatasetOutcome {
	ctx = logger.ContextWith(ctx, logger.SourceKey, name)
	log := logger.FromContext(p.logger, ctx)

	src, err := p.connect(name, opts.UseCache, log)
	if err != nil {
		log.Error("failed to set up source", zap.Error(err))
		metrics.DatasetsIngested.WithLabelValues(name, string(core.StatusError)).Inc()
		return []DatasetOutcome{{Source: name, Dataset: "*", Status: core.StatusError, Error: err.Error()}}
	}

	datasets, err := selectDatasets(src, opts.Datasets[name])
	if err != nil {
		return []DatasetOutcome{{Source: name, Dataset: "*", Status: core.StatusError, Error: err.Error()}}
	}

	outcomes := make([]DatasetOutcome, 0, len(datasets))
	for _, ds := range datasets {
		if ctx.Err() != nil {
			outcomes = append(outcomes, DatasetOutcome{
				Source: name, Dataset: ds.Name, Domain: ds.Domain,
				Status: core.StatusError, Error: ctx.Err().Error(),
			})
			continue
		}
		o := p.ingestDataset(ctx, runID, src, ds, opts.Start, opts.End)
		metrics.DatasetsIngested.WithLabelValues(name, string(o.Status)).Inc()
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (p *Pipeline) connect(name string, useCache bool, log *zap.Logger) (core.Source, error) {
	fopts := []clients.FetcherOption{clients.WithHTTPClient(p.http)}
	if useCache && p.cache != nil {
		fopts = append(fopts, clients.WithCache(p.cache))
	}
	fopts = append(fopts, p.fetcherOpts...)

	fetcher, err := clients.NewProtectedFetcher(name, p.limits(name), p.logger, fopts...)
	if err != nil {
		return nil, err
	}

	return p.registry.CreateSource(name, core.Deps{
		Fetcher:  fetcher,
		HTTP:     p.http,
		Logger:   log,
		Getenv:   p.getenv,
		BaseURL:  p.baseURLs[name],
		TokenURL: p.tokenURLs[name],
	})
}

func selectDatasets(src core.Source, names []string) ([]core.Dataset, error) {
	all := src.ListDatasets()
	if len(names) == 0 {
		return all, nil
	}
	out := make([]core.Dataset, 0, len(names))
	for _, n := range names {
		ds, ok := core.DatasetByName(all, n)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "source %s has no dataset %q", src.Name(), n)
		}
		out = append(out, ds)
	}
	return out, nil
}

// ingestDataset fetches one dataset and persists raw files, the curated
// table and the manifest. The manifest is only written once every artifact
// is on disk.
func (p *Pipeline) ingestDataset(ctx context.Context, runID string, src core.Source, ds core.Dataset, start, end time.Time) (outcome DatasetOutcome) {
	began := time.Now()
	ctx = logger.ContextWith(ctx, logger.DatasetKey, ds.Name)
	ctx, span := observability.StartSpan(ctx, "ingest.dataset",
		attribute.String("source", src.Name()),
		attribute.String("dataset", ds.Name))
	log := logger.FromContext(p.logger, ctx)

	outcome = DatasetOutcome{Source: src.Name(), Dataset: ds.Name, Domain: ds.Domain}
	defer func() {
		outcome.Duration = time.Since(began)
		var err error
		if outcome.Status == core.StatusError {
			err = fmt.Errorf("%s", outcome.Error)
		}
		observability.EndSpan(span, err)
	}()

	res := src.Fetch(ctx, ds.Name, start, end)
	if res.Domain != "" {
		outcome.Domain = res.Domain
	}
	outcome.Status = res.Status
	switch res.Status {
	case core.StatusError:
		outcome.Error = res.Error
		log.Error("fetch failed", zap.String("error", res.Error), zap.Bool("transient", res.Transient()))
		return outcome
	case core.StatusNoData:
		log.Info("no data in period")
		return outcome
	}

	files, err := p.persist(res, outcome.Domain, end)
	if err != nil {
		outcome.Status = core.StatusError
		outcome.Error = err.Error()
		log.Error("lake write failed", zap.Error(err))
		return outcome
	}
	for _, f := range files {
		outcome.Files = append(outcome.Files, f.Path)
	}
	outcome.Rows = res.Rows()

	manifestPath, err := p.lake.SaveManifest(lake.ManifestInput{
		Source:      src.Name(),
		Dataset:     ds.Name,
		Domain:      outcome.Domain,
		PeriodStart: start,
		PeriodEnd:   end,
		Files:       files,
		SourceURL:   res.SourceURL,
		Status:      lake.StatusSuccess,
		RunID:       runID,
	})
	if err != nil {
		outcome.Status = core.StatusError
		outcome.Error = err.Error()
		log.Error("manifest write failed", zap.Error(err))
		return outcome
	}
	outcome.Manifest = manifestPath
	p.index(ctx, manifestPath, log)

	metrics.RowsIngested.WithLabelValues(src.Name()).Add(float64(outcome.Rows))
	log.Info("dataset ingested",
		zap.Int("rows", outcome.Rows),
		zap.Int("files", len(files)),
		zap.String("manifest", manifestPath))
	return outcome
}

// persist writes raw files then the curated table and returns their
// metadata in write order.
func (p *Pipeline) persist(res *core.Result, domain string, end time.Time) ([]lake.FileMetadata, error) {
	var files []lake.FileMetadata
	record := func(path string) error {
		meta, err := p.lake.GetFileMetadata(path)
		if err != nil {
			return err
		}
		files = append(files, meta)
		return nil
	}

	for _, raw := range res.Raw {
		date := raw.Date
		if date.IsZero() {
			date = end
		}
		path, err := p.lake.SaveRaw(res.Source, raw.Filename, raw.Content, date)
		if err != nil {
			return nil, err
		}
		if err := record(path); err != nil {
			return nil, err
		}
	}

	if res.Data != nil && res.Data.NumColumns() > 0 {
		path, err := p.lake.SaveCurated(domain, res.Dataset, res.Data, end, res.Dataset)
		if err != nil {
			return nil, err
		}
		if err := record(path); err != nil {
			return nil, err
		}
	}

	if len(files) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "connector returned success without data or raw files")
	}
	return files, nil
}

// index records the manifest in the catalog. Failures are logged only.
func (p *Pipeline) index(ctx context.Context, manifestPath string, log *zap.Logger) {
	if p.catalog == nil {
		return
	}
	m, err := p.lake.LoadManifest(manifestPath)
	if err == nil {
		_, err = p.catalog.RecordManifest(ctx, manifestPath, m)
	}
	if err != nil {
		log.Warn("failed to index manifest", zap.String("manifest", manifestPath), zap.Error(err))
	}
}
