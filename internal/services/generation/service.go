package generation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// MaxPromptLength bounds the prompt in characters
const MaxPromptLength = 1000

// DispatchFailedMessage is recorded when the background run could not be scheduled
const DispatchFailedMessage = "dispatch failed"

// Dispatcher schedules an orchestrator run off the request goroutine
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, prompt string) error
}

// Service implements submit and poll
type Service struct {
	jobs       jobs.Service
	dispatcher Dispatcher
	configured bool
}

// NewService creates the generation service. configured reports whether an
// upstream API key is present.
func NewService(jobStore jobs.Service, dispatcher Dispatcher, configured bool) *Service {
	return &Service{jobs: jobStore, dispatcher: dispatcher, configured: configured}
}

// Submit records a pending job and schedules it. A dispatch failure marks
// the job as error but still returns it so the caller can poll.
func (s *Service) Submit(ctx context.Context, prompt string) (*models.GenerationJob, error) {
	if !s.configured {
		return nil, apperrors.Misconfiguration("generation.api_key")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperrors.MissingFieldError("prompt")
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, apperrors.ValidationError("prompt", "must be at most 1000 characters")
	}

	job, err := s.jobs.Create(ctx, prompt)
	if err != nil {
		return nil, apperrors.DatabaseError("create job", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.JobID, prompt); err != nil {
		log.Error("Failed to dispatch generation", "job_id", job.JobID, "err", err)
		updated, uerr := s.jobs.Update(context.WithoutCancel(ctx), job.JobID, models.GenerationPatch{
			Status:       models.GenerationStatusError,
			ErrorMessage: DispatchFailedMessage,
		})
		if uerr == nil {
			job = updated
		}
	}
	return job, nil
}

// Poll returns the current snapshot; unknown ids read as pending
func (s *Service) Poll(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := s.jobs.Read(ctx, jobID)
	if err != nil {
		return nil, apperrors.DatabaseError("read job", err)
	}
	return job, nil
}
