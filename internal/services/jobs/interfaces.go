package jobs

import (
	"context"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
)

// Service defines the job snapshot operations used by the API and the
// generation orchestrator
type Service interface {
	// Create records a new pending job and returns it with a fresh id
	Create(ctx context.Context, prompt string) (*models.GenerationJob, error)

	// Update merges patch into the snapshot. Terminal snapshots are never
	// modified and return ErrJobTerminal.
	Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error)

	// Read returns the snapshot, or a pending one when nothing was written yet
	Read(ctx context.Context, jobID string) (*models.GenerationJob, error)

	// Maintenance
	FindStale(ctx context.Context, olderThan time.Duration) ([]*models.GenerationJob, error)
	MarkStale(ctx context.Context, olderThan time.Duration) (int, error)
	CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// Repository persists job snapshots. Update is a compare-and-swap against
// the terminal statuses.
type Repository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	Get(ctx context.Context, jobID string) (*models.GenerationJob, error)
	Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error)
	FindNonTerminal(ctx context.Context, updatedBefore time.Time) ([]*models.GenerationJob, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// ServiceOption is a functional option for configuring the service
type ServiceOption func(*service)

// WithIDGenerator replaces the job id source
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *service) {
		s.newID = gen
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}
