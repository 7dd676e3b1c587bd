package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/api"
	"github.com/killallgit/vibematch-api/internal/services/cleanup"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/generation"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/killallgit/vibematch-api/internal/services/workers"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/spf13/cobra"
)

var (
	serverHost string
	serverPort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the VibeMatch API server with the configured settings.

The server exposes audio acquisition, video search and asynchronous music
generation over HTTP. Generation jobs run on the in-process worker pool
unless processing.scheduler is asynq, in which case they are enqueued for
"vibematch-api worker".

Example:
  vibematch-api serve
  vibematch-api serve --port 9090
  vibematch-api serve --host 0.0.0.0 --port 8080`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	// Use config values if flags not provided
	if serverHost == "" {
		serverHost = cfg.Server.Host
	}
	if serverPort == 0 {
		serverPort = cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Jobs left non-terminal by a previous process will never finish.
	if _, err := app.jobs.MarkStale(ctx, recoveryThreshold(cfg)); err != nil {
		log.Warn("Recovery sweep failed", "err", err)
	}

	dispatcher, stopDispatcher, err := startDispatcher(ctx, cfg, app.runner, app.jobs)
	if err != nil {
		return err
	}

	cleanupOpts := []cleanup.Option{
		cleanup.WithJobRetention(app.jobs, cfg.Jobs.Retention),
		cleanup.WithStaleSweep(app.jobs, staleThreshold(cfg)),
	}
	if cfg.Storage.Backend == "filesystem" {
		cleanupOpts = append(cleanupOpts, cleanup.WithCacheDir(cfg.Storage.CacheDir, generationDir(cfg)))
	}
	cleaner := cleanup.NewService(cfg.Storage.TempDir, cfg.Storage.MaxTempAge, cfg.Storage.CleanupInterval, cleanupOpts...)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	app.proxies.StartHealthChecks(ctx, cfg.Proxy.HealthInterval)

	address := fmt.Sprintf("%s:%d", serverHost, serverPort)
	server := api.NewServer(address,
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		api.WithMaxHeaderBytes(cfg.Server.MaxHeaderBytes),
		api.WithRateLimits(cfg.RateLimiting),
	)
	server.SetDependencies(app.dependencies(dispatcher))
	if err := server.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server error: %w", err)
		}
	}()

	log.Info("Server is ready to handle requests",
		"address", address,
		"scheduler", cfg.Processing.Scheduler,
		"jobs", cfg.Jobs.Backend,
		"storage", cfg.Storage.Backend,
		"proxies", app.proxies.Len())

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case runErr = <-serverErr:
		log.Error("Shutting down server...", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := stopDispatcher(shutdownCtx); err != nil {
		log.Warn("Background jobs still running at shutdown", "err", err)
	}

	log.Info("Server gracefully stopped")
	return runErr
}

// staleThreshold is how long a non-terminal job may go without a write
// before the periodic sweep fails it. A live orchestrator writes at least
// once per poll interval and gives up after the budget, so anything older
// than the budget plus the slowest upstream round trips is orphaned.
func staleThreshold(cfg *config.Config) time.Duration {
	d := cfg.Generation.Budget + cfg.Generation.PollInterval + 2*cfg.Generation.RequestTimeout
	if cfg.Jobs.StaleAfter > d {
		return cfg.Jobs.StaleAfter
	}
	return d
}

// recoveryThreshold is the startup sweep threshold. In-process jobs cannot
// outlive the process that ran them, so every non-terminal job is orphaned.
// asynq workers may still own jobs and get the periodic threshold.
func recoveryThreshold(cfg *config.Config) time.Duration {
	if cfg.Processing.Scheduler == "asynq" {
		return staleThreshold(cfg)
	}
	return 0
}

// interruptJob fails a job that was queued but never started
func interruptJob(store jobs.Service) workers.AbandonFunc {
	return func(ctx context.Context, task workers.Task) {
		_, err := store.Update(ctx, task.JobID, models.GenerationPatch{
			Status:       models.GenerationStatusError,
			ErrorMessage: jobs.InterruptedMessage,
		})
		if err != nil && !errors.Is(err, jobs.ErrJobTerminal) {
			log.Error("Failed to mark abandoned job", "job_id", task.JobID, "err", err)
		}
	}
}

// startDispatcher returns the configured job dispatcher and its stop func
func startDispatcher(ctx context.Context, cfg *config.Config, runner workers.Runner, store jobs.Service) (generation.Dispatcher, func(context.Context) error, error) {
	if cfg.Processing.Scheduler == "asynq" {
		// Upstream polling plus the artifact download must fit in the task timeout.
		d := workers.NewAsynqDispatcher(redisClientOpt(cfg), cfg.Generation.Budget+cfg.Generation.RequestTimeout*2)
		log.Info("Generation jobs are enqueued to asynq", "redis", cfg.Redis.Addr)
		return d, func(context.Context) error { return d.Close() }, nil
	}

	pool := workers.NewWorkerPool(runner, cfg.Processing.Workers, cfg.Processing.MaxQueueSize,
		workers.WithAbandonHandler(interruptJob(store)))
	if err := pool.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	return pool, pool.Stop, nil
}
