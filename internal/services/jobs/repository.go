package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"gorm.io/gorm"
)

// Repository errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job is already terminal")
	ErrJobExists   = errors.New("job already exists")
)

// repository implements Repository on gorm
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new job repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

// Create inserts a new snapshot
func (r *repository) Create(ctx context.Context, job *models.GenerationJob) error {
	res := r.db.WithContext(ctx).Create(job)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrJobExists
		}
		return fmt.Errorf("creating job: %w", res.Error)
	}
	return nil
}

// Get retrieves a snapshot by id
func (r *repository) Get(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &job, nil
}

// Update applies the patch with a single conditional UPDATE so a terminal
// row can never be overwritten, even by a concurrent writer.
func (r *repository) Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.Progress > 0 {
		updates["progress"] = gorm.Expr("MAX(progress, ?)", models.ClampProgress(patch.Progress))
	}
	if patch.ElapsedSeconds > 0 {
		updates["elapsed_seconds"] = patch.ElapsedSeconds
	}
	if patch.ErrorMessage != "" {
		updates["error_message"] = patch.ErrorMessage
	}
	if patch.AudioRef != "" {
		updates["audio_ref"] = patch.AudioRef
	}
	if patch.UpstreamTaskID != "" {
		updates["upstream_task_id"] = patch.UpstreamTaskID
	}

	res := r.db.WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("job_id = ? AND status NOT IN ?", jobID, models.TerminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("updating job: %w", res.Error)
	}

	job, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if job.IsTerminal() {
			return job, ErrJobTerminal
		}
		return nil, ErrJobNotFound
	}
	return job, nil
}

// FindNonTerminal lists pending or generating jobs not touched since updatedBefore
func (r *repository) FindNonTerminal(ctx context.Context, updatedBefore time.Time) ([]*models.GenerationJob, error) {
	var jobs []*models.GenerationJob
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", models.TerminalStatuses).
		Where("updated_at < ?", updatedBefore.UTC()).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("finding non-terminal jobs: %w", err)
	}
	return jobs, nil
}

// DeleteTerminalBefore removes finished jobs older than before
func (r *repository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ?", models.TerminalStatuses).
		Where("updated_at < ?", before.UTC()).
		Delete(&models.GenerationJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
