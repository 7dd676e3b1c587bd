package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxStderr = 4096

// Options controls a single download invocation
type Options struct {
	Format           string
	ProxyURL         string        // empty means a direct connection
	PlayerClient     string        // youtube player_client profile
	SocketTimeout    time.Duration
	Retries          int
	GeoBypassCountry string
	UserAgent        string
}

// Result describes the downloaded artifact
type Result struct {
	FilePath  string
	Extension string
	Size      int64
}

// YtDlp wraps the yt-dlp command line
type YtDlp struct {
	path string
}

// New creates a new YtDlp instance
func New(path string) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	return &YtDlp{path: path}
}

// ValidateBinary checks that yt-dlp is on PATH
func (y *YtDlp) ValidateBinary() error {
	if _, err := exec.LookPath(y.path); err != nil {
		return fmt.Errorf("%w: %s", ErrYtDlpNotFound, y.path)
	}
	return nil
}

// Version returns the installed yt-dlp version
func (y *YtDlp) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, y.path, "--version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", NewExtractError("version", "", err, tail(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// BuildArgs returns the command line for downloading url into outDir
func BuildArgs(url, outDir string, opts Options) []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--quiet",
		"-f", opts.Format,
		"-o", filepath.Join(outDir, "%(id)s.%(ext)s"),
		"--retries", strconv.Itoa(opts.Retries),
		"--fragment-retries", strconv.Itoa(opts.Retries),
		"--http-chunk-size", "1M",
	}

	if opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(opts.SocketTimeout.Seconds())))
	}
	if opts.PlayerClient != "" {
		args = append(args, "--extractor-args",
			"youtube:player_client="+opts.PlayerClient+";player_skip=configs;skip=dash,hls")
	}
	if opts.GeoBypassCountry != "" {
		args = append(args, "--geo-bypass-country", opts.GeoBypassCountry)
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
	}
	if opts.ProxyURL != "" {
		args = append(args, "--proxy", opts.ProxyURL)
	}

	return append(args, url)
}

// Download runs yt-dlp and returns the single file it wrote into outDir.
// outDir should be private to the call.
func (y *YtDlp) Download(ctx context.Context, url, outDir string, opts Options) (*Result, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrInvalidURL
	}

	cmd := exec.CommandContext(ctx, y.path, BuildArgs(url, outDir, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, NewExtractError("download", url, err, tail(stderr.String()))
	}

	return findOutput(outDir)
}

// findOutput picks the completed artifact, skipping partial and temp files
func findOutput(dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading output dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if ext == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		return &Result{
			FilePath:  filepath.Join(dir, name),
			Extension: strings.ToLower(ext),
			Size:      info.Size(),
		}, nil
	}

	return nil, ErrNoOutput
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[len(s)-maxStderr:]
	}
	return s
}
