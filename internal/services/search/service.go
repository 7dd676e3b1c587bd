package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/cache"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

const (
	DefaultMaxResults = 10
	MaxResultsLimit   = 50
)

// Searcher is the upstream video search
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// Service memoizes upstream searches in a bounded cache
type Service struct {
	client Searcher
	memo   cache.Cache
	ttl    time.Duration
}

// NewService creates a search service. memo may be nil to disable memoization.
func NewService(client Searcher, memo cache.Cache, ttl time.Duration) *Service {
	return &Service{client: client, memo: memo, ttl: ttl}
}

// MemoKey normalizes a query into its memo key
func MemoKey(query string, maxResults int) string {
	return fmt.Sprintf("%s_%d", strings.ToLower(strings.TrimSpace(query)), maxResults)
}

// Search returns up to maxResults videos for query. maxResults <= 0 uses the
// default and values above the API limit are capped.
func (s *Service) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.MissingFieldError("q")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	key := MemoKey(query, maxResults)
	if s.memo != nil {
		if data, ok := s.memo.Get(ctx, key); ok {
			var cached []models.SearchResult
			if err := json.Unmarshal(data, &cached); err == nil {
				log.Debug("Search memo hit", "key", key)
				return cached, nil
			}
		}
	}

	results, err := s.client.Search(ctx, strings.TrimSpace(query), maxResults)
	if err != nil {
		return nil, mapSearchError(err)
	}

	if s.memo != nil {
		if data, err := json.Marshal(results); err == nil {
			if err := s.memo.Set(ctx, key, data, s.ttl); err != nil {
				log.Warn("Failed to memoize search", "key", key, "err", err)
			}
		}
	}
	return results, nil
}

func mapSearchError(err error) error {
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return apperrors.Misconfiguration("youtube.api_key")
	case errors.Is(err, ErrRateLimited):
		return apperrors.RateLimitError("youtube", "quota exceeded")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "search timed out")
	}
	return apperrors.ExternalServiceError("youtube", err)
}
