package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/dataset_setup/internal/archive"
	"github.com/italolelis/dataset_setup/internal/config"
	"github.com/italolelis/dataset_setup/internal/fetch"
	"github.com/italolelis/dataset_setup/internal/logctx"
	"github.com/italolelis/dataset_setup/internal/notifier"
	"github.com/italolelis/dataset_setup/internal/pipeline"
	"github.com/italolelis/dataset_setup/internal/storage/sqlite"
	"github.com/italolelis/dataset_setup/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(cfg.LogHandler(os.Stdout)))
	slog.SetDefault(logger)

	ctx := logctx.WithLogger(context.Background(), logger)

	logger.Info("dataset setup starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(ctx, cfg); err != nil {
		logger.Error("dataset setup failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		// Flushes the OTLP reader before the process exits.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	opts := []pipeline.Option{
		pipeline.WithTelemetry(tel),
		pipeline.WithSkipCompleted(cfg.SkipCompleted),
	}

	// =========================================================================
	// Start Database
	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer database.Close()

		opts = append(opts, pipeline.WithRunRepository(sqlite.NewInstrumentedRunRepository(database, tel)))
	}

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		opts = append(opts, pipeline.WithNotifier(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)))
	}

	// =========================================================================
	// Build Pipeline
	policy, err := archive.ParsePolicy(cfg.ExistingFiles)
	if err != nil {
		return err
	}

	p := pipeline.New(buildFetcher(cfg), archive.NewExtractor(policy), opts...)

	job := pipeline.Job{
		URL:         cfg.SourceURL,
		ArchivePath: cfg.ArchivePath,
		TargetDir:   cfg.TargetDir,
	}

	if cfg.Telemetry.MetricsAddress == "" {
		return runPipeline(ctx, p, job)
	}

	// =========================================================================
	// Start Metrics Server
	server := setupServer(ctx, tel, cfg)

	var g errgroup.Group

	// The metrics server only observes the run; its failure is logged and never
	// ends the pipeline.
	g.Go(func() error {
		logger.Info("serving metrics", "address", cfg.Telemetry.MetricsAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "address", cfg.Telemetry.MetricsAddress, "err", err)
		}

		return nil
	})

	g.Go(func() error {
		defer shutdownServer(ctx, server, cfg.Web.ShutdownTimeout)

		return runPipeline(ctx, p, job)
	})

	return g.Wait()
}

func runPipeline(ctx context.Context, p *pipeline.Pipeline, job pipeline.Job) error {
	report, err := p.Run(ctx, job)
	if err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	if report.CleanupErr != nil {
		logger.Warn("dataset is ready but the archive was not deleted", "archive", job.ArchivePath, "err", report.CleanupErr)
	}

	logger.Info("dataset setup finished",
		"run_id", report.RunID,
		"skipped", report.Skipped,
		"duration", report.Duration.Round(time.Millisecond).String(),
	)

	return nil
}

func buildFetcher(cfg *config.Config) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		fetch.WithToken(cfg.SourceToken),
		fetch.WithRateLimit(cfg.RateLimit),
	}

	if cfg.ShowProgress {
		opts = append(opts, fetch.WithProgressOutput(os.Stderr))
	}

	return fetch.NewFetcher(opts...)
}

// setupServer prepares the router serving /metrics and /healthz for the duration of the run.
func setupServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Telemetry.MetricsAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, timeout time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding scrapes a deadline for completion.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the metrics server", "err", err)

		if err := server.Close(); err != nil {
			logger.Error("could not stop metrics server", "err", err)
		}
	}
}
