package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/services/workers"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/spf13/cobra"
)

var workerConcurrency int

// workerCmd runs generation jobs enqueued by serve
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the asynq generation worker",
	Long: `Consume generation jobs from Redis and drive them to completion.

Requires processing.scheduler=asynq and jobs.backend=redis so the API
server and every worker share job snapshots.

Example:
  vibematch-api worker
  vibematch-api worker --concurrency 8`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent jobs (overrides processing.workers)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	if cfg.Processing.Scheduler != "asynq" {
		return errSchedulerMode
	}

	concurrency := cfg.Processing.Workers
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}

	app, err := newApplication(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, mux := workers.NewAsynqServer(redisClientOpt(cfg), concurrency, app.runner)

	log.Info("Starting generation worker", "concurrency", concurrency, "redis", cfg.Redis.Addr)
	// Run blocks until SIGINT or SIGTERM and waits for active tasks.
	if err := srv.Run(mux); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
