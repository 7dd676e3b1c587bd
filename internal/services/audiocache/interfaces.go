package audiocache

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
)

var (
	// ErrCacheMiss is returned by Lookup when no artifact exists for an id
	ErrCacheMiss = errors.New("cache miss")

	// ErrObjectNotFound is returned by storage backends for absent keys
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidID is returned for ids that could escape the storage root
	ErrInvalidID = errors.New("invalid media id")

	// ErrUnsupportedExtension is returned when storing an unknown format
	ErrUnsupportedExtension = errors.New("unsupported audio extension")
)

// Extensions is the lookup priority order; the first present artifact wins.
var Extensions = []string{"m4a", "webm", "opus", "mp3"}

var mimeTypes = map[string]string{
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"opus": "audio/ogg",
	"mp3":  "audio/mpeg",
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MimeType maps an artifact extension to its content type
func MimeType(ext string) string {
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ValidID reports whether id is safe to use as a storage key
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// KnownExtension reports whether ext is one of Extensions
func KnownExtension(ext string) bool {
	_, ok := mimeTypes[strings.ToLower(ext)]
	return ok
}

// Store is the content-addressed artifact cache
type Store interface {
	// Lookup returns the first artifact for id in extension priority order
	Lookup(ctx context.Context, id string) (*models.CacheEntry, error)

	// Store publishes data for id; readers never observe a partial artifact
	Store(ctx context.Context, id string, data []byte, ext string) (*models.CacheEntry, error)

	// Open returns a reader over a stored artifact
	Open(ctx context.Context, entry *models.CacheEntry) (io.ReadCloser, error)

	// ReadAll loads the whole artifact into memory
	ReadAll(ctx context.Context, entry *models.CacheEntry) ([]byte, error)

	// Stats returns statistics from the cache index
	Stats(ctx context.Context) (*CacheStats, error)
}

// Repository indexes published artifacts
type Repository interface {
	// Upsert records an artifact, replacing any previous row for the same key
	Upsert(ctx context.Context, entry *models.CacheEntry) error

	// GetStats aggregates the index
	GetStats(ctx context.Context) (*CacheStats, error)
}

// StorageBackend defines the interface for artifact storage operations
type StorageBackend interface {
	// Save publishes data under key and returns its path or object name
	Save(ctx context.Context, key string, data io.Reader, size int64) (string, error)

	// Load opens the artifact stored under key
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns ErrObjectNotFound when key is absent
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// ObjectInfo describes a stored artifact
type ObjectInfo struct {
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalEntries   int64            `json:"total_entries"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
	ByExtension    map[string]int64 `json:"by_extension"`
	OldestEntry    string           `json:"oldest_entry,omitempty"`
	NewestEntry    string           `json:"newest_entry,omitempty"`
}
