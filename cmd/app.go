package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/internal/services/acquisition"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	"github.com/killallgit/vibematch-api/internal/services/cache"
	"github.com/killallgit/vibematch-api/internal/services/generation"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/killallgit/vibematch-api/internal/services/proxypool"
	"github.com/killallgit/vibematch-api/internal/services/search"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/killallgit/vibematch-api/pkg/download"
	"github.com/killallgit/vibematch-api/pkg/ytdlp"
	"github.com/redis/go-redis/v9"
)

const (
	searchMemoPrefix = "search:"
	generationPrefix = "generations"
)

// application holds the wired services shared by serve, worker and fetch
type application struct {
	cfg *config.Config

	db    *database.DB
	redis redis.UniversalClient
	memo  cache.Cache

	store            audiocache.Store
	generated        audiocache.Store
	proxies          *proxypool.Pool
	media            *acquisition.Orchestrator
	extractorVersion string

	search *search.Service

	jobs          jobs.Service
	runner        *generation.Orchestrator
	genConfigured bool

	closers []func() error
}

// newApplication opens every backend named by cfg and wires the services
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{cfg: cfg}

	db, err := database.InitializeWithMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			app.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.redis = client
		app.closers = append(app.closers, client.Close)
	}

	app.memo = newMemoCache(cfg, app.redis)
	if mc, ok := app.memo.(*cache.MemoryCache); ok {
		app.closers = append(app.closers, func() error { mc.Stop(); return nil })
	}

	store, err := newAudioStore(ctx, cfg, db)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.store = store

	generated, err := newGenerationStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.generated = generated

	app.proxies = newProxyPool(cfg)

	bin := ytdlp.New(cfg.Acquisition.YtDlpPath)
	app.extractorVersion = probeExtractor(ctx, bin)
	app.media = acquisition.NewOrchestrator(
		store,
		app.proxies,
		acquisition.NewYtDlpExtractor(bin, cfg.Storage.TempDir, extractorOptions(cfg)),
		acquisition.ChainConfigFrom(cfg.Acquisition),
	)

	app.search = search.NewService(search.NewClient(search.Config{
		APIKey:            cfg.YouTube.APIKey,
		BaseURL:           cfg.YouTube.BaseURL,
		Timeout:           cfg.YouTube.Timeout,
		RequestsPerSecond: cfg.YouTube.RequestsPerSecond,
		Burst:             cfg.YouTube.Burst,
	}), app.memo, cfg.YouTube.SearchTTL)

	app.jobs = jobs.NewService(newJobRepository(cfg, db, app.redis))

	upstream := generation.NewClient(generation.ClientConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Timeout: cfg.Generation.RequestTimeout,
	})
	app.genConfigured = upstream.Configured()

	dlOpts := download.DefaultOptions()
	dlOpts.MaxSize = cfg.Generation.MaxArtifactMB * 1024 * 1024
	app.runner = generation.NewOrchestrator(
		app.jobs,
		upstream,
		download.NewDownloader(dlOpts),
		generated,
		generation.Config{
			PollInterval: cfg.Generation.PollInterval,
			Budget:       cfg.Generation.Budget,
		},
	)

	return app, nil
}

// dependencies returns the handler dependencies for dispatcher
func (a *application) dependencies(dispatcher generation.Dispatcher) *types.Dependencies {
	return &types.Dependencies{
		DB:         a.db,
		Redis:      a.redis,
		Media:      a.media,
		Search:     a.search,
		Generation: generation.NewService(a.jobs, dispatcher, a.genConfigured),
		Generated:  a.generated,
		Proxies:    a.proxies,
		Build: types.BuildInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildTime: BuildTime,
		},
		ExtractorVersion: a.extractorVersion,
		Scheduler:        a.cfg.Processing.Scheduler,
	}
}

// Close releases backends in reverse order of opening
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("Error during shutdown", "err", err)
		}
	}
	a.closers = nil
}

func newMemoCache(cfg *config.Config, client redis.UniversalClient) cache.Cache {
	if client != nil {
		return cache.NewRedisCache(client, searchMemoPrefix, cfg.YouTube.SearchTTL)
	}
	return cache.NewMemoryCache(
		cfg.Cache.Memory.MaxEntries,
		cfg.Cache.Memory.CleanupInterval,
		cache.WithDefaultTTL(cfg.Cache.Memory.DefaultTTL),
	)
}

func newAudioStore(ctx context.Context, cfg *config.Config, db *database.DB) (audiocache.Store, error) {
	var (
		backend audiocache.StorageBackend
		err     error
	)

	switch cfg.Storage.Backend {
	case "minio":
		m := cfg.Storage.Minio
		backend, err = audiocache.NewMinioStorage(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
	default:
		backend, err = audiocache.NewFilesystemStorage(cfg.Storage.CacheDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Backend, err)
	}

	var repo audiocache.Repository
	if db != nil {
		repo = audiocache.NewRepository(db.DB)
	}
	return audiocache.NewService(repo, backend), nil
}

// newGenerationStore keeps generated artifacts apart from fetched media so
// a job ID can never be served as a media ID.
func newGenerationStore(ctx context.Context, cfg *config.Config) (audiocache.Store, error) {
	var (
		backend audiocache.StorageBackend
		err     error
	)

	switch cfg.Storage.Backend {
	case "minio":
		m := cfg.Storage.Minio
		var ms *audiocache.MinioStorage
		ms, err = audiocache.NewMinioStorage(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
		if err == nil {
			backend = ms.WithPrefix(generationPrefix + "/")
		}
	default:
		backend, err = audiocache.NewFilesystemStorage(generationDir(cfg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s generation storage: %w", cfg.Storage.Backend, err)
	}
	return audiocache.NewService(nil, backend), nil
}

func generationDir(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.CacheDir, generationPrefix)
}

func newProxyPool(cfg *config.Config) *proxypool.Pool {
	return proxypool.NewPool(cfg.Proxy.Endpoints, proxypool.WithProbe(cfg.Proxy.ProbeURL, cfg.Proxy.ProbeTimeout))
}

func newJobRepository(cfg *config.Config, db *database.DB, client redis.UniversalClient) jobs.Repository {
	if cfg.Jobs.Backend == "redis" && client != nil {
		return jobs.NewRedisRepository(client)
	}
	return jobs.NewRepository(db.DB)
}

func extractorOptions(cfg *config.Config) ytdlp.Options {
	return ytdlp.Options{
		Format:           cfg.Acquisition.Format,
		SocketTimeout:    cfg.Acquisition.SocketTimeout,
		GeoBypassCountry: cfg.Acquisition.GeoBypassCountry,
		UserAgent:        cfg.Acquisition.UserAgent,
	}
}

// probeExtractor returns the yt-dlp version, or "" when it cannot run
func probeExtractor(ctx context.Context, bin *ytdlp.YtDlp) string {
	if err := bin.ValidateBinary(); err != nil {
		log.Error("yt-dlp not found; media fetches will fail", "err", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	version, err := bin.Version(ctx)
	if err != nil {
		log.Error("yt-dlp version check failed", "err", err)
		return ""
	}
	log.Info("Extractor available", "yt_dlp", version)
	return version
}

func redisClientOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// errSchedulerMode is returned by worker when the config runs jobs in-process
var errSchedulerMode = errors.New("processing.scheduler must be asynq to run a standalone worker")
