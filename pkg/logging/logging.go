// Package logging configures the process-wide charmbracelet logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps enabled.
// The writer defaults to [os.Stderr].
func New(w io.Writer, level string, json bool) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, err
	}

	opts := log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	}
	if json {
		opts.Formatter = log.JSONFormatter
	}
	if lvl == log.DebugLevel {
		opts.ReportCaller = true
	}

	return log.NewWithOptions(w, opts), nil
}

// Setup replaces the default logger used by the package-level helpers.
func Setup(level string, json bool) error {
	logger, err := New(os.Stderr, level, json)
	if err != nil {
		return err
	}
	log.SetDefault(logger)
	return nil
}

// With returns a child of the default logger carrying the given key-value pairs.
func With(kv ...any) *log.Logger {
	return log.Default().With(kv...)
}
