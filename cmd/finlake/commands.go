package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/finlake/internal/pipeline"
	"github.com/ajitpratap0/finlake/pkg/cache"
	"github.com/ajitpratap0/finlake/pkg/catalog"
	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/config"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/lake"
	"github.com/ajitpratap0/finlake/pkg/remote"
)

const dateLayout = "2006-01-02"

func newSourcesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available sources and their datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []*registry.ConnectorInfo
			for _, name := range registry.ListSources() {
				info, err := registry.GetConnectorInfo(name)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			if flags.jsonOutput {
				return printJSON(infos)
			}

			for _, info := range infos {
				fmt.Printf("%s - %s\n", info.Name, info.Description)
				if len(info.Credentials) > 0 {
					fmt.Printf("  credentials: %s\n", strings.Join(info.Credentials, ", "))
				}
				for _, ds := range info.Datasets {
					fmt.Printf("  - %-24s %-14s %s\n", ds.Name, ds.Domain, ds.Description)
				}
			}
			return nil
		},
	}
}

// ingestFlags select sources, datasets and the period.
type ingestFlags struct {
	sources  []string
	all      bool
	datasets []string
	from     string
	to       string
	noCache  bool
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.sources, "source", "s", nil, "Source to ingest (repeatable)")
	cmd.Flags().BoolVar(&f.all, "all", false, "Ingest every configured source")
	cmd.Flags().StringSliceVarP(&f.datasets, "dataset", "d", nil, "Restrict to these datasets; requires a single --source")
	cmd.Flags().StringVar(&f.from, "from", "", "Period start (YYYY-MM-DD); defaults to the configured lookback")
	cmd.Flags().StringVar(&f.to, "to", "", "Period end (YYYY-MM-DD); defaults to today")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Bypass the response cache")
}

// options resolves flags against the configuration.
func (f *ingestFlags) options(cfg *config.Config, requireSelection bool) (pipeline.Options, error) {
	opts := pipeline.Options{UseCache: cfg.Ingest.UseCache && !f.noCache}

	switch {
	case len(f.sources) > 0 && f.all:
		return opts, fmt.Errorf("--source and --all are mutually exclusive")
	case len(f.sources) > 0:
		opts.Sources = f.sources
	case f.all || !requireSelection:
		opts.Sources = cfg.Ingest.Sources
		if len(opts.Sources) == 0 {
			opts.Sources = registry.ListSources()
		}
	default:
		return opts, fmt.Errorf("specify --source or --all")
	}

	if len(f.datasets) > 0 {
		if len(opts.Sources) != 1 {
			return opts, fmt.Errorf("--dataset requires exactly one --source")
		}
		opts.Datasets = map[string][]string{opts.Sources[0]: f.datasets}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	opts.End = today
	if f.to != "" {
		end, err := time.Parse(dateLayout, f.to)
		if err != nil {
			return opts, fmt.Errorf("invalid --to: %w", err)
		}
		opts.End = end
	}
	opts.Start = opts.End.AddDate(0, 0, -cfg.Ingest.LookbackDays)
	if f.from != "" {
		start, err := time.Parse(dateLayout, f.from)
		if err != nil {
			return opts, fmt.Errorf("invalid --from: %w", err)
		}
		opts.Start = start
	}
	return opts, nil
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch datasets into the lake",
		Long: `Fetch datasets from one or more sources and write raw files, curated
tables and manifests into the lake.

Example:
  finlake ingest --source bcb --from 2024-01-01 --to 2024-06-30
  finlake ingest --source fred --dataset cpi
  finlake ingest --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			opts, err := f.options(a.cfg, true)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			summary, err := a.ingest(ctx, opts)
			if err != nil {
				return err
			}
			return a.reportIngest(summary)
		},
	}
	f.register(cmd)
	return cmd
}

// syncFlags override the sync section of the configuration.
type syncFlags struct {
	backend string
	bucket  string
	prefix  string
	dryRun  bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", "", "Remote backend (local, s3, gcs, drive)")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "Bucket for s3 and gcs")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Key prefix under the bucket or folder")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "List what would be uploaded without uploading")
}

func (f *syncFlags) apply(cfg *remote.Config) error {
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.bucket != "" {
		cfg.Bucket = f.bucket
	}
	if f.prefix != "" {
		cfg.Prefix = f.prefix
	}
	return cfg.Validate()
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	f := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload curated files to remote storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := f.apply(&a.cfg.Sync); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			result, err := a.sync(ctx, f.dryRun)
			if err != nil {
				return err
			}
			return a.reportSync(result)
		},
	}
	f.register(cmd)
	return cmd
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		inf      = &ingestFlags{}
		sf       = &syncFlags{}
		withSync bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the configured sources, then optionally sync",
		Long: `Ingest every configured source (or --source) for the period, then upload
curated files when --sync is given or ingest.sync_after is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			opts, err := inf.options(a.cfg, false)
			if err != nil {
				return err
			}
			doSync := withSync || a.cfg.Ingest.SyncAfter
			if doSync {
				if err := sf.apply(&a.cfg.Sync); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			summary, err := a.ingest(ctx, opts)
			if err != nil {
				return err
			}
			ingestErr := a.reportIngest(summary)

			if doSync && ctx.Err() == nil {
				result, err := a.sync(ctx, sf.dryRun)
				if err != nil {
					return err
				}
				if err := a.reportSync(result); err != nil {
					return err
				}
			}
			return ingestErr
		},
	}
	inf.register(cmd)
	sf.register(cmd)
	cmd.Flags().BoolVar(&withSync, "sync", false, "Sync curated files after ingesting")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var (
		source string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lake contents and recent ingestion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			lk, err := a.openLake()
			if err != nil {
				return err
			}
			stats, err := lk.Stats()
			if err != nil {
				return err
			}
			datasets, err := lk.ListDatasets("")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var (
				sources []catalog.SourceSummary
				runs    []catalog.Run
			)
			if cat := a.openCatalog(ctx); cat != nil {
				defer cat.Close()
				if sources, err = cat.Summary(ctx); err != nil {
					return err
				}
				if runs, err = cat.RecentRuns(ctx, source, limit); err != nil {
					return err
				}
			}

			if a.json {
				return printJSON(map[string]interface{}{
					"lake":     stats,
					"datasets": datasets,
					"sources":  sources,
					"runs":     runs,
				})
			}

			fmt.Printf("Lake: %s\n", stats.BaseDir)
			fmt.Printf("  datasets: %d  curated files: %d  raw files: %d  manifests: %d  size: %s\n",
				stats.Datasets, stats.CuratedFiles, stats.RawFiles, stats.Manifests, humanBytes(stats.TotalBytes))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			if len(datasets) > 0 {
				fmt.Fprintln(w, "\nDOMAIN\tDATASET\tFILES\tSIZE")
				for _, d := range datasets {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Domain, d.Dataset, d.FileCount, humanBytes(d.TotalBytes))
				}
			}
			if len(sources) > 0 {
				fmt.Fprintln(w, "\nSOURCE\tRUNS\tOK\tFAILED\tROWS\tLAST RUN")
				for _, s := range sources {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Source, s.Runs, s.Successes, s.Failures, s.Rows, s.LastRun.Format(time.RFC3339))
				}
			}
			if len(runs) > 0 {
				fmt.Fprintln(w, "\nINGESTED\tSOURCE\tDATASET\tPERIOD\tSTATUS\tROWS")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s..%s\t%s\t%d\n",
						r.IngestedAt.Format(time.RFC3339), r.Source, r.Dataset, r.PeriodStart, r.PeriodEnd, r.Status, r.Rows)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only show runs of this source")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent runs to show")
	return cmd
}

func newVerifyCmd(flags *globalFlags) *cobra.Command {
	var domain, dataset string
	cmd := &cobra.Command{
		Use:   "verify [manifest...]",
		Short: "Check that files recorded in manifests are unchanged",
		Long: `Recompute the SHA-256 of every file listed in the given manifests, or in
every manifest of the lake (optionally narrowed by --domain and --dataset),
and report missing or modified files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			lk, err := a.openLake()
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				if paths, err = lk.ListManifests(domain, dataset); err != nil {
					return err
				}
			}

			var (
				results []*lake.Verification
				failed  int
			)
			for _, p := range paths {
				v, err := lk.VerifyManifest(p)
				if err != nil {
					return err
				}
				if !v.OK() {
					failed++
				}
				results = append(results, v)
			}

			if a.json {
				if err := printJSON(results); err != nil {
					return err
				}
			} else {
				for _, v := range results {
					if v.OK() {
						fmt.Printf("OK    %s (%d files)\n", v.Manifest, v.Checked)
						continue
					}
					fmt.Printf("FAIL  %s\n", v.Manifest)
					for _, m := range v.Mismatches {
						fmt.Printf("      %s: %s\n", m.Name, m.Reason)
					}
				}
				fmt.Printf("\n%d manifests checked, %d failed\n", len(results), failed)
			}
			if failed > 0 {
				return fmt.Errorf("%d manifests failed verification", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Only verify manifests of this domain")
	cmd.Flags().StringVar(&dataset, "dataset", "", "Only verify manifests of this dataset (requires --domain)")
	return cmd
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := cache.New(a.cfg.Cache, a.logger)
			if err != nil {
				return err
			}
			s := c.Stats()
			if a.json {
				return printJSON(s)
			}
			fmt.Printf("Cache: %s (enabled=%t, ttl=%s, codec=%s)\n", s.Dir, s.Enabled, s.TTL, s.Codec)
			fmt.Printf("  entries: %d  size: %s\n", s.Files, humanBytes(s.TotalBytes))
			return nil
		},
	})

	var olderThan time.Duration
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := cache.New(a.cfg.Cache, a.logger)
			if err != nil {
				return err
			}
			n, err := c.Clear(olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d cache entries\n", n)
			return nil
		},
	}
	clearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only delete entries older than this, e.g. 48h")
	cmd.AddCommand(clearCmd)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "finlake.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func (a *app) openLake() (*lake.Lake, error) {
	return lake.New(a.cfg.Lake, a.logger)
}

// openCatalog returns nil when the catalog is disabled or unreachable; run
// history is optional.
func (a *app) openCatalog(ctx context.Context) *catalog.Catalog {
	if !a.cfg.Catalog.Enabled {
		return nil
	}
	cat, err := catalog.Open(ctx, a.cfg.Catalog, a.logger)
	if err != nil {
		a.logger.Warn("catalog unavailable, continuing without run history", zap.Error(err))
		return nil
	}
	return cat
}

// ingest wires the lake, cache, catalog and HTTP client into a pipeline and
// runs it.
func (a *app) ingest(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error) {
	lk, err := a.openLake()
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewHTTPClient(&a.cfg.HTTP, a.logger)
	defer httpClient.Close()

	popts := []pipeline.Option{
		pipeline.WithConcurrency(a.cfg.Ingest.Concurrency),
		pipeline.WithLimits(a.cfg.Fetch.LimitsFor),
	}
	if a.cfg.Cache.Enabled {
		c, err := cache.New(a.cfg.Cache, a.logger)
		if err != nil {
			return nil, err
		}
		popts = append(popts, pipeline.WithCache(c))
	}
	if cat := a.openCatalog(ctx); cat != nil {
		defer cat.Close()
		popts = append(popts, pipeline.WithCatalog(cat))
	}

	return pipeline.New(lk, httpClient, a.logger, popts...).Run(ctx, opts)
}

func (a *app) reportIngest(s *pipeline.Summary) error {
	if a.json {
		if err := printJSON(s); err != nil {
			return err
		}
	} else {
		fmt.Printf("Run %s: %s..%s\n", s.RunID, s.Start.Format(dateLayout), s.End.Format(dateLayout))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tDATASET\tSTATUS\tROWS\tFILES\tDETAIL")
		for _, o := range s.Outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", o.Source, o.Dataset, o.Status, o.Rows, len(o.Files), o.Error)
		}
		_ = w.Flush()
		fmt.Printf("\n%d succeeded, %d no data, %d failed, %d rows in %s\n",
			s.Succeeded, s.NoData, s.Failed, s.Rows, s.Duration.Round(time.Millisecond))
	}
	if !s.OK() {
		return fmt.Errorf("%d datasets failed", s.Failed)
	}
	return nil
}

func (a *app) sync(ctx context.Context, dryRun bool) (*remote.SyncResult, error) {
	lk, err := a.openLake()
	if err != nil {
		return nil, err
	}
	store, err := remote.NewStore(ctx, a.cfg.Sync, a.logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return remote.NewSyncer(store, a.logger, a.cfg.Sync.Patterns...).Sync(ctx, lk.CuratedDir(), a.cfg.Sync.Prefix, dryRun)
}

func (a *app) reportSync(r *remote.SyncResult) error {
	if a.json {
		if err := printJSON(r); err != nil {
			return err
		}
	} else {
		files := append([]remote.SyncedFile(nil), r.Files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
		for _, f := range files {
			line := fmt.Sprintf("%-9s %s", f.Action, f.Key)
			if f.Error != "" {
				line += ": " + f.Error
			}
			fmt.Println(line)
		}
		mode := ""
		if r.DryRun {
			mode = " (dry run)"
		}
		fmt.Printf("\n%s%s: %d uploaded, %d skipped, %d errors, %s total\n",
			r.Backend, mode, r.Uploaded, r.Skipped, r.Errors, humanBytes(r.TotalBytes))
	}
	if r.Errors > 0 {
		return fmt.Errorf("%d files failed to upload", r.Errors)
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
