package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gatehits/internal/simhost"
	"github.com/ajitpratap0/gatehits/pkg/config"
	"github.com/ajitpratap0/gatehits/pkg/json"
	"github.com/ajitpratap0/gatehits/pkg/lifecycle"
	"github.com/ajitpratap0/gatehits/pkg/logger"
	"github.com/ajitpratap0/gatehits/pkg/observability"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

type runFlags struct {
	configFile string
	output     string
	clearEvery int
	format     string
	debug      bool
	logLevel   string
	host       simhost.Config
}

func newRunCommand() *cobra.Command {
	f := runFlags{host: simhost.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic multi-worker simulation through the collector",
		Long: `Run drives the collector with a synthetic host: worker goroutines fire the
simulation callbacks and produce random hits for the configured attributes.

Example:
  gatehits run --config gatehits.yaml --workers 8 --events 10000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f.configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDestination = f.output
			}
			if cmd.Flags().Changed("clear-every") {
				cfg.ClearEveryNEvents = f.clearEvery
			}
			if cmd.Flags().Changed("format") {
				cfg.Output.Format = f.format
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = f.debug
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = f.logLevel
			}
			return runSimulation(cmd.Context(), cfg, f.host)
		},
	}

	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to configuration file (defaults and GATEHITS_* environment when empty)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output destination: a path, s3://bucket/key or gs://bucket/object")
	cmd.Flags().IntVar(&f.clearEvery, "clear-every", 0, "Flush worker buffers every N events (0 keeps everything in memory until the end)")
	cmd.Flags().StringVar(&f.format, "format", config.FormatArrow, "Consolidated output format (arrow, parquet)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Trace every append, flush and clear")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().IntVar(&f.host.Workers, "workers", runtime.NumCPU(), "Number of simulated worker threads")
	cmd.Flags().IntVar(&f.host.Runs, "runs", f.host.Runs, "Runs per worker")
	cmd.Flags().IntVar(&f.host.EventsPerRun, "events", f.host.EventsPerRun, "Events per run per worker")
	cmd.Flags().IntVar(&f.host.MaxHits, "max-hits", f.host.MaxHits, "Maximum hits per event")
	cmd.Flags().Int64Var(&f.host.Seed, "seed", f.host.Seed, "Random seed")
	cmd.Flags().BoolVar(&f.host.OrderedCompletion, "ordered", f.host.OrderedCompletion, "Finish workers in id order for reproducible output")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func runSimulation(ctx context.Context, cfg *config.Config, host simhost.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "gatehits-cli"))

	shutdownTracing, err := observability.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("address", cfg.Metrics.ListenAddress))
	}

	schema, err := cfg.Schema()
	if err != nil {
		return err
	}
	controller := lifecycle.New(cfg, lifecycle.WithLogger(logger.Get()))

	log.Info("starting simulation",
		zap.Int("workers", host.Workers),
		zap.Int("runs", host.Runs),
		zap.Int("events_per_run", host.EventsPerRun),
		zap.Int64("seed", host.Seed))
	start := time.Now()

	out, err := simhost.New(controller, schema, host, logger.Get()).Run(ctx)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	elapsed := time.Since(start)
	log.Info("simulation completed",
		zap.Duration("duration", elapsed),
		zap.Int64("rows", out.Rows),
		zap.Float64("hits_per_second", float64(out.Rows)/elapsed.Seconds()))

	return json.Encode(os.Stdout, struct {
		Output *sink.ConsolidatedOutput `json:"output"`
		Stats  lifecycle.Stats          `json:"stats"`
	}{out, controller.Stats()})
}
