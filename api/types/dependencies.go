package types

import (
	"context"

	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/acquisition"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	"github.com/redis/go-redis/v9"
)

// MediaFetcher returns audio for a video id, fetching it on a cache miss
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID string) (*acquisition.FetchResult, error)
}

// VideoSearcher searches the video platform
type VideoSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// GenerationService submits and polls generation jobs
type GenerationService interface {
	Submit(ctx context.Context, prompt string) (*models.GenerationJob, error)
	Poll(ctx context.Context, jobID string) (*models.GenerationJob, error)
}

// ProxyReporter exposes proxy health for the health endpoint
type ProxyReporter interface {
	Stats() []models.ProxyEndpoint
}

// BuildInfo is stamped at build time
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Dependencies holds all the dependencies needed by handlers
type Dependencies struct {
	DB         *database.DB
	Redis      redis.UniversalClient
	Media      MediaFetcher
	Search     VideoSearcher
	Generation GenerationService
	Generated  audiocache.Store
	Proxies    ProxyReporter

	Build            BuildInfo
	ExtractorVersion string
	Scheduler        string
}
