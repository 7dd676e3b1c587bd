package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/killallgit/vibematch-api/pkg/download"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// TimeoutMessage is recorded when the polling budget runs out
const TimeoutMessage = "timeout"

// Fetcher downloads the finished artifact
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*download.FetchResult, error)
}

// ArtifactStore persists the finished artifact
type ArtifactStore interface {
	Store(ctx context.Context, id string, data []byte, ext string) (*models.CacheEntry, error)
}

// Config holds the polling parameters
type Config struct {
	PollInterval time.Duration
	Budget       time.Duration
}

// Orchestrator runs one generation job from submission to a terminal snapshot
type Orchestrator struct {
	jobs     jobs.Service
	upstream Upstream
	fetcher  Fetcher
	store    ArtifactStore
	cfg      Config
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep overrides the wait between status polls
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// NewOrchestrator creates a generation orchestrator
func NewOrchestrator(jobStore jobs.Service, upstream Upstream, fetcher Fetcher, store ArtifactStore, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 5 * time.Minute
	}
	o := &Orchestrator{
		jobs:     jobStore,
		upstream: upstream,
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives the job to complete or error. It never returns without
// attempting a terminal write, including after a panic. The returned error
// is informational; callers must not retry.
func (o *Orchestrator) Run(ctx context.Context, jobID, prompt string) (err error) {
	ctx = context.WithoutCancel(ctx)
	start := o.now()
	logger := log.With("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Generation panicked", "panic", r)
			o.fail(ctx, jobID, fmt.Sprintf("internal error: %v", r), start)
			err = apperrors.New(apperrors.ErrCodeInternal, fmt.Sprintf("generation panicked: %v", r))
		}
	}()

	if _, err := o.jobs.Update(ctx, jobID, models.GenerationPatch{Status: models.GenerationStatusGenerating}); errors.Is(err, jobs.ErrJobTerminal) {
		// Swept while still queued; submitting now would orphan the upstream task.
		logger.Warn("Job already terminal; skipping generation")
		return nil
	} else if err != nil {
		logger.Error("Failed to write job snapshot", "err", err)
	}

	taskID, err := o.upstream.Submit(ctx, prompt)
	if err != nil {
		logger.Error("Generation submission failed", "err", err)
		o.fail(ctx, jobID, "submission failed: "+err.Error(), start)
		return apperrors.UpstreamSubmission(err)
	}
	logger = logger.With("task_id", taskID)
	logger.Info("Generation submitted")
	o.write(ctx, jobID, models.GenerationPatch{UpstreamTaskID: taskID})

	for {
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			o.fail(ctx, jobID, TimeoutMessage, start)
			return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "generation cancelled")
		}

		elapsed := o.now().Sub(start)
		if elapsed >= o.cfg.Budget {
			logger.Warn("Generation timed out", "budget", o.cfg.Budget)
			o.fail(ctx, jobID, TimeoutMessage, start)
			return apperrors.TimeoutError("generation", o.cfg.Budget.String())
		}

		status, err := o.upstream.Status(ctx, taskID)
		switch {
		case err != nil:
			// Status failures are transient until the budget runs out.
			logger.Warn("Status check failed", "err", err)
		case status.Status == TaskCompleted:
			if status.AudioURL == "" {
				o.fail(ctx, jobID, "generation completed without audio", start)
				return apperrors.UpstreamGeneration("generation completed without audio")
			}
			return o.finish(ctx, jobID, status.AudioURL, start)
		case status.Status == TaskFailed:
			reason := status.Error
			if reason == "" {
				reason = "Unknown error"
			}
			logger.Warn("Generation failed upstream", "reason", reason)
			o.fail(ctx, jobID, reason, start)
			return apperrors.UpstreamGeneration(reason)
		default:
			logger.Debug("Generation in progress", "upstream_status", status.Status)
		}

		o.write(ctx, jobID, models.GenerationPatch{
			Status:         models.GenerationStatusGenerating,
			Progress:       progressFor(elapsed, o.cfg.Budget),
			ElapsedSeconds: elapsed.Seconds(),
		})
	}
}

func (o *Orchestrator) finish(ctx context.Context, jobID, audioURL string, start time.Time) error {
	result, err := o.fetcher.Fetch(ctx, audioURL)
	if err != nil {
		log.Error("Artifact download failed", "job_id", jobID, "err", err)
		o.fail(ctx, jobID, "download failed: "+err.Error(), start)
		return apperrors.ExternalServiceError("generation artifact", err)
	}

	entry, err := o.store.Store(ctx, jobID, result.Data, "mp3")
	if err != nil {
		log.Error("Artifact store failed", "job_id", jobID, "err", err)
		o.fail(ctx, jobID, "storing artifact failed: "+err.Error(), start)
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "storing generation artifact")
	}

	o.write(ctx, jobID, models.GenerationPatch{
		Status:         models.GenerationStatusComplete,
		Progress:       100,
		ElapsedSeconds: o.now().Sub(start).Seconds(),
		AudioRef:       entry.Key(),
	})
	log.Info("Generation complete", "job_id", jobID, "bytes", len(result.Data))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID, reason string, start time.Time) {
	o.write(ctx, jobID, models.GenerationPatch{
		Status:         models.GenerationStatusError,
		ErrorMessage:   reason,
		ElapsedSeconds: o.now().Sub(start).Seconds(),
	})
}

func (o *Orchestrator) write(ctx context.Context, jobID string, patch models.GenerationPatch) {
	if _, err := o.jobs.Update(ctx, jobID, patch); err != nil {
		if errors.Is(err, jobs.ErrJobTerminal) {
			log.Debug("Job already terminal; dropping write", "job_id", jobID)
			return
		}
		log.Error("Failed to write job snapshot", "job_id", jobID, "err", err)
	}
}

// progressFor maps elapsed time onto 0..99; 100 is reserved for complete
func progressFor(elapsed, budget time.Duration) int {
	if budget <= 0 {
		return 0
	}
	p := int(elapsed * 100 / budget)
	if p > 99 {
		return 99
	}
	if p < 0 {
		return 0
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
