package cmd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/killallgit/vibematch-api/internal/services/workers"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu   sync.Mutex
	jobs []string
	done chan struct{}
}

func (r *countingRunner) Run(ctx context.Context, jobID, prompt string) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, jobID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func testJobs(t *testing.T) jobs.Service {
	t.Helper()
	db, err := database.Initialize(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.Models()...))
	t.Cleanup(func() { _ = db.Close() })
	return jobs.NewService(jobs.NewRepository(db.DB))
}

func TestStaleThresholds(t *testing.T) {
	gen := config.GenerationConfig{
		Budget:         10 * time.Minute,
		PollInterval:   5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
	longest := 10*time.Minute + 5*time.Second + time.Minute

	tests := []struct {
		name       string
		scheduler  string
		staleAfter time.Duration
		periodic   time.Duration
		recovery   time.Duration
	}{
		{"inprocess below budget", "inprocess", 10 * time.Minute, longest, 0},
		{"inprocess configured above budget", "inprocess", time.Hour, time.Hour, 0},
		{"asynq below budget", "asynq", time.Minute, longest, longest},
		{"asynq configured above budget", "asynq", time.Hour, time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Generation: gen,
				Jobs:       config.JobsConfig{StaleAfter: tt.staleAfter},
				Processing: config.ProcessingConfig{Scheduler: tt.scheduler},
			}
			if got := staleThreshold(cfg); got != tt.periodic {
				t.Errorf("staleThreshold() = %v, want %v", got, tt.periodic)
			}
			if got := recoveryThreshold(cfg); got != tt.recovery {
				t.Errorf("recoveryThreshold() = %v, want %v", got, tt.recovery)
			}
		})
	}
}

func TestInterruptJobFailsQueuedJob(t *testing.T) {
	ctx := context.Background()
	store := testJobs(t)

	job, err := store.Create(ctx, "ambient rain")
	require.NoError(t, err)

	interruptJob(store)(ctx, workers.Task{JobID: job.JobID, Prompt: job.Prompt})

	got, err := store.Read(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Equal(t, jobs.InterruptedMessage, got.ErrorMessage)

	// A second abandon on a terminal job is a no-op.
	interruptJob(store)(ctx, workers.Task{JobID: job.JobID})
	again, err := store.Read(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(again.UpdatedAt))
}

func TestStartDispatcherInProcess(t *testing.T) {
	cfg := &config.Config{
		Processing: config.ProcessingConfig{Scheduler: "inprocess", Workers: 1, MaxQueueSize: 4},
	}
	runner := &countingRunner{done: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher, stop, err := startDispatcher(ctx, cfg, runner, testJobs(t))
	require.NoError(t, err)
	_, ok := dispatcher.(*workers.WorkerPool)
	assert.True(t, ok)

	require.NoError(t, dispatcher.Dispatch(ctx, "job-1", "prompt"))
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not run")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, stop(stopCtx))
	assert.Equal(t, []string{"job-1"}, runner.jobs)
}

func TestStartDispatcherAsynq(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Redis:      config.RedisConfig{Addr: mr.Addr()},
		Processing: config.ProcessingConfig{Scheduler: "asynq"},
		Generation: config.GenerationConfig{Budget: time.Minute, RequestTimeout: time.Second},
	}

	dispatcher, stop, err := startDispatcher(context.Background(), cfg, &countingRunner{}, nil)
	require.NoError(t, err)
	_, ok := dispatcher.(*workers.AsynqDispatcher)
	assert.True(t, ok)
	assert.NoError(t, stop(context.Background()))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCmd()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Failed to find serve command: %v", err)
	}

	if serveCmd.Flags().Lookup("port") == nil {
		t.Error("Expected port flag to be registered")
	}
	if serveCmd.Flags().Lookup("host") == nil {
		t.Error("Expected host flag to be registered")
	}
}
