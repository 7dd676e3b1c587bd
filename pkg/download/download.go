package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrTooLarge is returned when a body exceeds MaxSize
	ErrTooLarge = errors.New("file too large")

	// ErrInvalidContentType is returned when ValidateAudio rejects a response
	ErrInvalidContentType = errors.New("invalid content type")
)

// StatusError reports a non-success HTTP status
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for %s", e.StatusCode, e.URL)
}

// DownloadOptions configures the download behavior
type DownloadOptions struct {
	MaxSize       int64         // Maximum body size in bytes (0 = no limit)
	Timeout       time.Duration // Download timeout
	ProgressFunc  ProgressFunc  // Optional progress callback
	UserAgent     string        // User agent string
	ValidateAudio bool          // Validate content-type is audio
}

// ProgressFunc is called during download to report progress
type ProgressFunc func(downloaded, total int64)

// DefaultOptions returns default download options
func DefaultOptions() DownloadOptions {
	return DownloadOptions{
		MaxSize:       50 * 1024 * 1024,
		Timeout:       2 * time.Minute,
		UserAgent:     "VibematchAPI/1.0",
		ValidateAudio: true,
	}
}

// FetchResult contains a downloaded body held in memory
type FetchResult struct {
	Data          []byte
	ContentType   string
	ContentLength int64
	Extension     string // guessed from the URL path, empty when unknown
}

// Downloader fetches remote artifacts
type Downloader struct {
	client  *http.Client
	options DownloadOptions
}

// NewDownloader creates a new downloader with the given options
func NewDownloader(options DownloadOptions) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: options.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true, // Don't compress audio
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		options: options,
	}
}

// Fetch downloads url into memory, enforcing MaxSize
func (d *Downloader) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	log.Debugf("Starting download from %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.options.UserAgent)
	req.Header.Set("Accept", "audio/*,*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	contentType := resp.Header.Get("Content-Type")
	if d.options.ValidateAudio && !isAudioContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	if d.options.MaxSize > 0 && resp.ContentLength > d.options.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, d.options.MaxSize)
	}

	var reader io.Reader = resp.Body
	if d.options.ProgressFunc != nil && resp.ContentLength > 0 {
		reader = &progressReader{
			reader:   reader,
			total:    resp.ContentLength,
			callback: d.options.ProgressFunc,
		}
	}

	// Read one byte past the limit so oversize bodies without a
	// Content-Length are still rejected instead of truncated.
	if d.options.MaxSize > 0 {
		reader = io.LimitReader(reader, d.options.MaxSize+1)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	n, err := io.Copy(&buf, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	if d.options.MaxSize > 0 && n > d.options.MaxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, d.options.MaxSize)
	}

	log.Debugf("Downloaded %d bytes from %s", n, url)

	return &FetchResult{
		Data:          buf.Bytes(),
		ContentType:   contentType,
		ContentLength: n,
		Extension:     extensionFromURL(url),
	}, nil
}

// CleanupOldTempFiles removes files matching pattern in tempDir older than maxAge
func CleanupOldTempFiles(tempDir, pattern string, maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(tempDir, pattern))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(file); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		log.Debugf("Cleaned up %d old temp entries in %s", removed, tempDir)
	}

	return removed, nil
}

// extensionFromURL returns a known audio extension from the URL path
func extensionFromURL(url string) string {
	path := url
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if isValidAudioExtension(ext) {
		return ext
	}
	return ""
}

// isAudioContentType checks if content type is audio
func isAudioContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.HasPrefix(contentType, "audio/") ||
		contentType == "application/octet-stream" || // Some servers use this for audio
		contentType == "binary/octet-stream"
}

// isValidAudioExtension checks if extension is valid for audio files
func isValidAudioExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case "mp3", "m4a", "aac", "ogg", "wav", "flac", "opus", "webm":
		return true
	}
	return false
}

// progressReader wraps a reader to report progress
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	callback   ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		if pr.callback != nil {
			pr.callback(pr.downloaded, pr.total)
		}
	}
	return n, err
}
