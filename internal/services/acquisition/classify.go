package acquisition

import (
	"context"
	"errors"
	"strings"

	"github.com/killallgit/vibematch-api/pkg/ytdlp"
)

// Outcome is the classification of a single fetch attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeBotDetected
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeBotDetected:
		return "bot_detected"
	case OutcomeUnavailable:
		return "content_unavailable"
	}
	return "unknown"
}

var botMarkers = []string{
	"sign in to confirm you're not a bot",
	"sign in to confirm you’re not a bot",
	"http error 429",
	"too many requests",
}

var unavailableMarkers = []string{
	"private video",
	"video unavailable",
	"has been removed",
	"this video is not available",
	"account associated with this video has been terminated",
	"members-only content",
}

// Classify maps an extractor error onto an Outcome. Unknown failures,
// including proxy and timeout errors, are transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}

	text := err.Error()
	var extractErr *ytdlp.ExtractError
	if errors.As(err, &extractErr) && extractErr.Stderr != "" {
		text = extractErr.Stderr
	}
	text = strings.ToLower(text)

	for _, m := range unavailableMarkers {
		if strings.Contains(text, m) {
			return OutcomeUnavailable
		}
	}
	for _, m := range botMarkers {
		if strings.Contains(text, m) {
			return OutcomeBotDetected
		}
	}
	return OutcomeTransient
}
