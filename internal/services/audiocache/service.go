package audiocache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
)

// ServiceImpl implements Store on top of a StorageBackend. The backend is the
// source of truth; the repository is a best-effort index used for stats.
type ServiceImpl struct {
	repository Repository
	storage    StorageBackend
	now        func() time.Time
}

// NewService creates a new audio cache service. repository may be nil.
func NewService(repository Repository, storage StorageBackend) *ServiceImpl {
	return &ServiceImpl{
		repository: repository,
		storage:    storage,
		now:        time.Now,
	}
}

// Lookup checks each extension in priority order
func (s *ServiceImpl) Lookup(ctx context.Context, id string) (*models.CacheEntry, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	for _, ext := range Extensions {
		info, err := s.storage.Stat(ctx, id+"."+ext)
		if errors.Is(err, ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking cache for %s.%s: %w", id, ext, err)
		}
		return &models.CacheEntry{
			ID:        id,
			Extension: ext,
			FilePath:  info.Path,
			Size:      info.Size,
			CreatedAt: info.ModTime,
		}, nil
	}

	return nil, ErrCacheMiss
}

// Store publishes data under id.ext
func (s *ServiceImpl) Store(ctx context.Context, id string, data []byte, ext string) (*models.CacheEntry, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !KnownExtension(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}

	entry := &models.CacheEntry{
		ID:        id,
		Extension: ext,
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
	}

	path, err := s.storage.Save(ctx, entry.Key(), bytes.NewReader(data), entry.Size)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", entry.Key(), err)
	}
	entry.FilePath = path

	if s.repository != nil {
		if err := s.repository.Upsert(ctx, entry); err != nil {
			log.Warn("Failed to index cache entry", "key", entry.Key(), "err", err)
		}
	}

	log.Debugf("Cached %s (%d bytes)", entry.Key(), entry.Size)
	return entry, nil
}

// Open returns a reader over the artifact
func (s *ServiceImpl) Open(ctx context.Context, entry *models.CacheEntry) (io.ReadCloser, error) {
	return s.storage.Load(ctx, entry.Key())
}

// ReadAll loads the artifact into memory
func (s *ServiceImpl) ReadAll(ctx context.Context, entry *models.CacheEntry) ([]byte, error) {
	rc, err := s.Open(ctx, entry)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry.Key(), err)
	}
	return data, nil
}

// Stats returns index statistics
func (s *ServiceImpl) Stats(ctx context.Context) (*CacheStats, error) {
	if s.repository == nil {
		return &CacheStats{ByExtension: map[string]int64{}}, nil
	}
	return s.repository.GetStats(ctx)
}

var _ Store = (*ServiceImpl)(nil)
