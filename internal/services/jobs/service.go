package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/killallgit/vibematch-api/internal/models"
)

// InterruptedMessage is recorded on jobs found unfinished by the recovery sweep
const InterruptedMessage = "interrupted"

type service struct {
	repo  Repository
	newID func() string
	now   func() time.Time
}

// NewService creates a job service over repo
func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &service{
		repo:  repo,
		newID: NewJobID,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewJobID returns a random 32-char hex id
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *service) Create(ctx context.Context, prompt string) (*models.GenerationJob, error) {
	job := models.NewPendingJob(s.newID())
	job.Prompt = prompt

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	log.Debug("Created generation job", "job_id", job.JobID)
	return job, nil
}

// Update writes the patch. A job with no record yet is created from the
// pending default first, so writes never depend on Create having landed.
func (s *service) Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error) {
	job, err := s.repo.Update(ctx, jobID, patch)
	if errors.Is(err, ErrJobNotFound) {
		if cerr := s.repo.Create(ctx, models.NewPendingJob(jobID)); cerr != nil && !errors.Is(cerr, ErrJobExists) {
			return nil, fmt.Errorf("creating job on update: %w", cerr)
		}
		job, err = s.repo.Update(ctx, jobID, patch)
	}
	if err != nil {
		if errors.Is(err, ErrJobTerminal) {
			log.Debug("Ignoring update to terminal job", "job_id", jobID)
			return job, err
		}
		return nil, err
	}
	return job, nil
}

func (s *service) Read(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return models.NewPendingJob(jobID), nil
		}
		return nil, fmt.Errorf("reading job: %w", err)
	}
	return job, nil
}

func (s *service) FindStale(ctx context.Context, olderThan time.Duration) ([]*models.GenerationJob, error) {
	return s.repo.FindNonTerminal(ctx, s.now().Add(-olderThan))
}

// MarkStale moves unfinished jobs with no recent write to error. Run on
// startup and periodically by the cleanup service, so a job whose runner
// died never stays pending or generating.
func (s *service) MarkStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.FindStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("finding stale jobs: %w", err)
	}

	marked := 0
	for _, job := range stale {
		_, err := s.repo.Update(ctx, job.JobID, models.GenerationPatch{
			Status:       models.GenerationStatusError,
			ErrorMessage: InterruptedMessage,
		})
		if errors.Is(err, ErrJobTerminal) {
			continue
		}
		if err != nil {
			return marked, fmt.Errorf("marking job %s: %w", job.JobID, err)
		}
		marked++
	}

	if marked > 0 {
		log.Info("Marked interrupted generation jobs", "count", marked)
	}
	return marked, nil
}

func (s *service) CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteTerminalBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleaning up jobs: %w", err)
	}
	return n, nil
}
