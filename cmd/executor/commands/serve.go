package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/worker-executor/pkg/component"
	"github.com/openfroyo/worker-executor/pkg/config"
	"github.com/openfroyo/worker-executor/pkg/executor"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker executor",
		Long: `Run the worker executor process.

The storage backends are opened once from the configuration. The admin
server exposes Prometheus metrics, a health check and read-only worker
inspection endpoints. Changes of the config file are watched and the log
level is applied without a restart.`,
		Example: `  # Run with in-memory storage
  executor serve

  # Run with a config file
  executor serve --config /etc/executor/config.yaml

  # Override the storage backend from the environment
  EXECUTOR_STORAGE_BACKEND=redis executor serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, version)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path, version string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = version
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}()

	logEvents(tel.Events, logger)

	b, err := openBackends(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}()

	exec := executor.New(b.oplogs,
		executor.WithLogger(logger),
		executor.WithMetrics(tel.Metrics),
		executor.WithTracer(tel.Tracer),
		executor.WithEvents(tel.Events),
		executor.WithAssumeIdempotence(cfg.AssumeIdempotence),
	)

	cache := component.NewCache(ctx, component.NewBlobLoader(b.blobs), cfg.Components,
		component.WithLogger(logger),
		component.WithMetrics(tel.Metrics),
	)
	defer func() {
		_ = cache.Close(context.Background())
	}()

	server := &http.Server{
		Addr:              cfg.Telemetry.Metrics.ListenAddress,
		Handler:           newAdminRouter(exec, b.storage, tel.Metrics, cfg.Telemetry.Metrics.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("address", server.Addr).
			Str("storage", cfg.Storage.Backend).
			Str("blob_storage", cfg.Blobs.Backend).
			Msg("Worker executor started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("Shutting down worker executor")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return cache.Run(gctx)
	})

	if path != "" {
		watcher := config.NewWatcher(path, logger)
		g.Go(func() error {
			return watcher.Run(gctx, func(reloaded *config.Config) {
				if err := telemetry.SetGlobalLevel(reloaded.Telemetry.Logging.Level); err != nil {
					logger.Error().Err(err).Msg("Failed to apply log level")
					return
				}
				logger.Info().Str("level", reloaded.Telemetry.Logging.Level).Msg("Log level updated")
			})
		})
	}

	return g.Wait()
}
