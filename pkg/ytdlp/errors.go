package ytdlp

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrYtDlpNotFound = errors.New("yt-dlp binary not found")
	ErrNoOutput      = errors.New("yt-dlp produced no output file")
	ErrInvalidURL    = errors.New("video URL is required")
)

// ExtractError represents a failed yt-dlp invocation
type ExtractError struct {
	Operation string // The operation that failed (e.g., "download", "version")
	URL       string // The video being extracted
	Err       error  // The underlying error
	Stderr    string // stderr output from yt-dlp
}

func (e *ExtractError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("yt-dlp %s failed for %s: %v (stderr: %s)", e.Operation, e.URL, e.Err, e.Stderr)
	}
	return fmt.Sprintf("yt-dlp %s failed for %s: %v", e.Operation, e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// NewExtractError creates a new ExtractError
func NewExtractError(operation, url string, err error, stderr string) *ExtractError {
	return &ExtractError{
		Operation: operation,
		URL:       url,
		Err:       err,
		Stderr:    stderr,
	}
}
