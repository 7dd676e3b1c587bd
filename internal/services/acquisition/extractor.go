package acquisition

import (
	"context"
	"fmt"
	"os"

	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/pkg/ytdlp"
)

// Extraction is the audio produced by one successful attempt
type Extraction struct {
	Data      []byte
	Extension string
}

// Extractor performs a single network attempt for a media id
type Extractor interface {
	Extract(ctx context.Context, mediaID string, attempt models.FetchAttempt) (*Extraction, error)
}

// YtDlpExtractor runs yt-dlp into a private temp dir and reads the result back
type YtDlpExtractor struct {
	bin     *ytdlp.YtDlp
	tempDir string
	base    ytdlp.Options
}

// NewYtDlpExtractor creates an extractor. base carries the options shared by
// every attempt; proxy, client profile and retries come from the attempt.
func NewYtDlpExtractor(bin *ytdlp.YtDlp, tempDir string, base ytdlp.Options) *YtDlpExtractor {
	return &YtDlpExtractor{bin: bin, tempDir: tempDir, base: base}
}

// WatchURL returns the canonical watch page for a media id
func WatchURL(mediaID string) string {
	return "https://www.youtube.com/watch?v=" + mediaID
}

// Extract implements Extractor
func (e *YtDlpExtractor) Extract(ctx context.Context, mediaID string, attempt models.FetchAttempt) (*Extraction, error) {
	if err := os.MkdirAll(e.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(e.tempDir, "fetch-"+mediaID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating attempt dir: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := e.base
	opts.PlayerClient = attempt.ClientProfile
	opts.Retries = attempt.MaxRetries
	if attempt.Proxy != nil {
		opts.ProxyURL = attempt.Proxy.URL()
	}

	res, err := e.bin.Download(ctx, WatchURL(mediaID), dir, opts)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading extracted audio: %w", err)
	}
	return &Extraction{Data: data, Extension: res.Extension}, nil
}
