package types

import (
	"github.com/killallgit/vibematch-api/internal/models"
)

// Status constants for API responses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// BaseResponse contains fields common to all API responses
type BaseResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse for detailed error information
type ErrorResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`   // Error code
	Details interface{} `json:"details,omitempty"` // Additional error details
}

// SearchResponse for the search endpoint
type SearchResponse struct {
	BaseResponse
	Query   string                `json:"query"`
	Results []models.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// GenerationSubmitResponse is returned when a job is accepted
type GenerationSubmitResponse struct {
	BaseResponse
	JobID string `json:"job_id" example:"3f2c1a9e8b7d4c6e9a1b2c3d4e5f6a7b"`
}

// GenerationStatusResponse is the polled snapshot of a job
type GenerationStatusResponse struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status" example:"generating"`
	Progress int     `json:"progress" example:"40"`
	Elapsed  float64 `json:"elapsed" example:"12.5"`
	AudioRef string  `json:"audio_ref,omitempty" example:"3f2c1a9e8b7d4c6e9a1b2c3d4e5f6a7b.mp3"`
	AudioURL string  `json:"audio_url,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// HealthResponse for health check endpoint
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Services  map[string]interface{} `json:"services"`
}

// VersionResponse for the root endpoint
type VersionResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	BuildInfo
}

// NewGenerationStatus converts a job snapshot into its API form
func NewGenerationStatus(job *models.GenerationJob, audioURL string) GenerationStatusResponse {
	resp := GenerationStatusResponse{
		JobID:    job.JobID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Elapsed:  job.ElapsedSeconds,
		Error:    job.ErrorMessage,
	}
	if job.Status == models.GenerationStatusComplete && job.AudioRef != "" {
		resp.AudioRef = job.AudioRef
		resp.AudioURL = audioURL
	}
	return resp
}
