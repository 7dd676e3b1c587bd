package acquisition

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// ProxySource supplies proxy candidates and receives attempt outcomes
type ProxySource interface {
	Candidates() []*models.ProxyEndpoint
	Report(ep *models.ProxyEndpoint, ok bool)
}

// FetchResult is the audio returned to the caller
type FetchResult struct {
	Entry     *models.CacheEntry // nil when publishing to the cache failed
	Data      []byte
	Extension string
	MimeType  string
	CacheHit  bool
	Attempts  int
}

// Orchestrator drives the fetch strategy chain
type Orchestrator struct {
	store     audiocache.Store
	proxies   ProxySource
	extractor Extractor
	cfg       ChainConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSleep replaces the cooldown sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// NewOrchestrator creates an acquisition orchestrator. proxies may be nil.
func NewOrchestrator(store audiocache.Store, proxies ProxySource, extractor Extractor, cfg ChainConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		proxies:   proxies,
		extractor: extractor,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch returns cached audio for mediaID, or acquires it through the chain.
// Errors are classified AppErrors.
func (o *Orchestrator) Fetch(ctx context.Context, mediaID string) (*FetchResult, error) {
	if !audiocache.ValidID(mediaID) {
		return nil, apperrors.ValidationError("media_id", "must match [A-Za-z0-9_-]{1,64}")
	}

	if res, ok := o.fromCache(ctx, mediaID); ok {
		return res, nil
	}

	var candidates []*models.ProxyEndpoint
	if o.proxies != nil {
		candidates = o.proxies.Candidates()
	}
	chain := BuildChain(o.cfg, candidates)

	var (
		lastErr  error
		botErr   error
		attempts int
	)

	for i := 0; i < len(chain); i++ {
		attempt := chain[i]
		attempts++

		extraction, err := o.run(ctx, mediaID, attempt)
		outcome := Classify(err)

		logger := log.With("media_id", mediaID, "strategy", attempt.StrategyID, "client", attempt.ClientProfile)
		if attempt.Proxy != nil {
			logger = logger.With("proxy", attempt.Proxy.Redacted())
		}

		switch outcome {
		case OutcomeSuccess:
			o.report(attempt, true)
			logger.Info("Fetch attempt succeeded", "bytes", len(extraction.Data))
			return o.publish(ctx, mediaID, extraction, attempts), nil

		case OutcomeUnavailable:
			logger.Warn("Content unavailable", "err", err)
			return nil, apperrors.ContentUnavailable(mediaID, err)

		case OutcomeBotDetected:
			botErr = err
			logger.Warn("Bot detection triggered", "err", err)
			if attempt.IsDirect() {
				break
			}
			// Platform-wide signal: skip the remaining proxies and cool down
			// before the direct attempt.
			i = len(chain) - 2
			if err := o.sleep(ctx, o.cfg.BotCooldown); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeTimeout, "fetch cancelled during cooldown")
			}

		case OutcomeTransient:
			o.report(attempt, false)
			lastErr = err
			logger.Warn("Fetch attempt failed", "err", err)
		}

		if ctx.Err() != nil {
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "fetch cancelled")
		}
	}

	if botErr != nil {
		return nil, apperrors.BotDetected(mediaID, botErr)
	}
	if lastErr != nil {
		lastErr = apperrors.Wrap(lastErr, apperrors.ErrCodeNetworkTransient, "last attempt failed")
	}
	return nil, apperrors.UnavailableAfterRetries(mediaID, attempts, lastErr)
}

func (o *Orchestrator) fromCache(ctx context.Context, mediaID string) (*FetchResult, bool) {
	entry, err := o.store.Lookup(ctx, mediaID)
	if err != nil {
		if !errors.Is(err, audiocache.ErrCacheMiss) {
			log.Warn("Cache lookup failed; fetching from network", "media_id", mediaID, "err", err)
		}
		return nil, false
	}

	data, err := o.store.ReadAll(ctx, entry)
	if err != nil {
		log.Warn("Cached artifact unreadable; fetching from network", "media_id", mediaID, "err", err)
		return nil, false
	}

	log.Debug("Cache hit", "media_id", mediaID, "ext", entry.Extension)
	return &FetchResult{
		Entry:     entry,
		Data:      data,
		Extension: entry.Extension,
		MimeType:  audiocache.MimeType(entry.Extension),
		CacheHit:  true,
	}, true
}

func (o *Orchestrator) run(ctx context.Context, mediaID string, attempt models.FetchAttempt) (*Extraction, error) {
	if attempt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, attempt.Timeout)
		defer cancel()
	}
	return o.extractor.Extract(ctx, mediaID, attempt)
}

// publish stores the artifact; a failed store still returns the audio
func (o *Orchestrator) publish(ctx context.Context, mediaID string, ex *Extraction, attempts int) *FetchResult {
	ext := normalizeExtension(ex.Extension)
	res := &FetchResult{
		Data:      ex.Data,
		Extension: ext,
		MimeType:  audiocache.MimeType(ext),
		Attempts:  attempts,
	}

	entry, err := o.store.Store(ctx, mediaID, ex.Data, ext)
	if err != nil {
		log.Error("Failed to cache fetched audio", "media_id", mediaID, "ext", ext, "err", err)
		return res
	}
	res.Entry = entry
	return res
}

func (o *Orchestrator) report(attempt models.FetchAttempt, ok bool) {
	if o.proxies != nil && attempt.Proxy != nil {
		o.proxies.Report(attempt.Proxy, ok)
	}
}

// normalizeExtension folds container aliases onto the cached extension set
func normalizeExtension(ext string) string {
	switch ext {
	case "mp4", "m4b":
		return "m4a"
	case "ogg", "oga":
		return "opus"
	}
	return ext
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
