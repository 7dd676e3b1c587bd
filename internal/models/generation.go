package models

import (
	"time"
)

// GenerationStatus represents the lifecycle state of a generation job
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusComplete   GenerationStatus = "complete"
	GenerationStatusError      GenerationStatus = "error"
)

// TerminalStatuses lists the statuses that are never overwritten once recorded
var TerminalStatuses = []GenerationStatus{GenerationStatusComplete, GenerationStatusError}

// IsTerminal returns true for complete and error
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusComplete || s == GenerationStatusError
}

// IsValid reports whether s is a known status
func (s GenerationStatus) IsValid() bool {
	switch s {
	case GenerationStatusPending, GenerationStatusGenerating, GenerationStatusComplete, GenerationStatusError:
		return true
	}
	return false
}

// GenerationJob is the current snapshot of one generation request.
// It is overwritten in place and keeps no history.
type GenerationJob struct {
	JobID          string           `json:"job_id" gorm:"primaryKey;size:64"`
	Prompt         string           `json:"prompt" gorm:"type:text"`
	Status         GenerationStatus `json:"status" gorm:"size:16;not null;default:'pending';index"`
	Progress       int              `json:"progress" gorm:"not null;default:0"` // 0-100
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	ErrorMessage   string           `json:"error_message,omitempty" gorm:"type:text"`
	AudioRef       string           `json:"audio_ref,omitempty"`
	UpstreamTaskID string           `json:"upstream_task_id,omitempty" gorm:"size:128"`
	CreatedAt      time.Time        `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// IsTerminal returns true if the job is in a terminal state
func (j *GenerationJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// GenerationPatch carries the fields of a job snapshot to overwrite.
// Zero values are left untouched; Progress is merged as max(old, new).
type GenerationPatch struct {
	Status         GenerationStatus
	Progress       int
	ElapsedSeconds float64
	ErrorMessage   string
	AudioRef       string
	UpstreamTaskID string
}

// Apply merges the patch into the job in memory
func (p GenerationPatch) Apply(j *GenerationJob) {
	if p.Status != "" {
		j.Status = p.Status
	}
	if p.Progress > j.Progress {
		j.Progress = ClampProgress(p.Progress)
	}
	if p.ElapsedSeconds > 0 {
		j.ElapsedSeconds = p.ElapsedSeconds
	}
	if p.ErrorMessage != "" {
		j.ErrorMessage = p.ErrorMessage
	}
	if p.AudioRef != "" {
		j.AudioRef = p.AudioRef
	}
	if p.UpstreamTaskID != "" {
		j.UpstreamTaskID = p.UpstreamTaskID
	}
}

// ClampProgress keeps progress within 0..100
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// NewPendingJob returns the snapshot reported before any background write
func NewPendingJob(jobID string) *GenerationJob {
	return &GenerationJob{
		JobID:    jobID,
		Status:   GenerationStatusPending,
		Progress: 0,
	}
}
