package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/pkg/download"
)

// Temp file patterns left behind by interrupted work
const (
	fetchDirPattern   = "fetch-*"
	partialObjPattern = ".tmp-*"
)

// JobMaintainer prunes finished job snapshots
type JobMaintainer interface {
	CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// StaleSweeper fails jobs that stopped receiving writes
type StaleSweeper interface {
	MarkStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Result summarizes one cleanup pass
type Result struct {
	TempRemoved     int
	JobsDeleted     int64
	JobsInterrupted int
}

// Service periodically removes stale temp files and old job snapshots
type Service struct {
	tempDir         string
	cacheDirs       []string
	maxAge          time.Duration
	cleanupInterval time.Duration
	jobs            JobMaintainer
	retention       time.Duration
	sweeper         StaleSweeper
	staleAfter      time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the cleanup service
type Option func(*Service)

// WithCacheDir also sweeps partially written artifacts from each cache dir
func WithCacheDir(dirs ...string) Option {
	return func(s *Service) {
		s.cacheDirs = append(s.cacheDirs, dirs...)
	}
}

// WithJobRetention deletes terminal jobs older than retention
func WithJobRetention(jobs JobMaintainer, retention time.Duration) Option {
	return func(s *Service) {
		s.jobs = jobs
		s.retention = retention
	}
}

// WithStaleSweep fails non-terminal jobs with no write for staleAfter.
// staleAfter must exceed the longest a live job can go without a write.
func WithStaleSweep(sweeper StaleSweeper, staleAfter time.Duration) Option {
	return func(s *Service) {
		s.sweeper = sweeper
		s.staleAfter = staleAfter
	}
}

// NewService creates a new cleanup service
func NewService(tempDir string, maxAge, cleanupInterval time.Duration, opts ...Option) *Service {
	s := &Service{
		tempDir:         tempDir,
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one pass immediately, then one per interval until Stop
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.RunOnce(ctx)

	if s.cleanupInterval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				log.Info("Cleanup service stopped")
				return
			}
		}
	}()

	log.Info("Cleanup service started", "interval", s.cleanupInterval, "max_age", s.maxAge)
}

// Stop stops the cleanup service
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce performs a single cleanup pass
func (s *Service) RunOnce(ctx context.Context) Result {
	var res Result

	if s.tempDir != "" {
		n, err := download.CleanupOldTempFiles(s.tempDir, fetchDirPattern, s.maxAge)
		if err != nil {
			log.Warn("Temp cleanup failed", "dir", s.tempDir, "err", err)
		}
		res.TempRemoved += n
	}

	for _, dir := range s.cacheDirs {
		n, err := download.CleanupOldTempFiles(dir, partialObjPattern, s.maxAge)
		if err != nil {
			log.Warn("Cache temp cleanup failed", "dir", dir, "err", err)
		}
		res.TempRemoved += n
	}

	if s.jobs != nil && s.retention > 0 {
		n, err := s.jobs.CleanupOldJobs(ctx, s.retention)
		if err != nil {
			log.Warn("Job cleanup failed", "err", err)
		}
		res.JobsDeleted = n
	}

	if s.sweeper != nil && s.staleAfter > 0 {
		n, err := s.sweeper.MarkStale(ctx, s.staleAfter)
		if err != nil {
			log.Warn("Stale job sweep failed", "err", err)
		}
		res.JobsInterrupted = n
	}

	if res.TempRemoved > 0 || res.JobsDeleted > 0 || res.JobsInterrupted > 0 {
		log.Debug("Cleanup pass finished",
			"temp_removed", res.TempRemoved,
			"jobs_deleted", res.JobsDeleted,
			"jobs_interrupted", res.JobsInterrupted)
	}
	return res
}
