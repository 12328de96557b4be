package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/finlake/pkg/config"
	"github.com/ajitpratap0/finlake/pkg/logger"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"github.com/ajitpratap0/finlake/pkg/observability"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources"
)

var version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configFile  string
	logLevel    string
	metricsAddr string
	jsonOutput  bool
}

// app is the state a command runs with once flags and config are parsed.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	json   bool

	shutdownTracing func(context.Context) error
	metricsServer   *http.Server
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "finlake",
		Short: "finlake - Brazilian and US financial data lake",
		Long: `finlake ingests macroeconomic, market and fundamentals data from public
financial sources (BCB, FRED, B3, CVM, ANBIMA) into a partitioned local data lake.
Every fetch is rate limited, jittered, retried and cached, and every dataset
ingestion leaves a manifest that records the files written and their hashes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("finlake v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		newSourcesCmd(flags),
		newIngestCmd(flags),
		newSyncCmd(flags),
		newRunCmd(flags),
		newStatusCmd(flags),
		newVerifyCmd(flags),
		newCacheCmd(flags),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and starts logging, tracing and the optional
// metrics endpoint. Callers must defer app.close.
func setup(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get()

	cfg.Observability.Tracing.ServiceVersion = version
	shutdown, err := observability.InitTracing(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &app{cfg: cfg, logger: log, json: flags.jsonOutput, shutdownTracing: shutdown}
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		a.serveMetrics(addr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
