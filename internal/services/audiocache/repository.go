package audiocache

import (
	"context"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepositoryImpl implements the Repository interface using GORM
type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new audio cache repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// Upsert records an artifact; the primary key is (id, extension)
func (r *RepositoryImpl) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "extension"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_path", "size", "created_at"}),
		}).
		Create(entry).Error
}

// GetStats retrieves cache statistics
func (r *RepositoryImpl) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{ByExtension: map[string]int64{}}
	db := r.db.WithContext(ctx).Model(&models.CacheEntry{})

	var rows []struct {
		Extension string
		Count     int64
		Bytes     int64
	}
	if err := db.Select("extension, COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Group("extension").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByExtension[row.Extension] = row.Count
		stats.TotalEntries += row.Count
		stats.TotalSizeBytes += row.Bytes
	}

	if stats.TotalEntries == 0 {
		return stats, nil
	}

	var oldest, newest models.CacheEntry
	if err := r.db.WithContext(ctx).Order("created_at ASC").First(&oldest).Error; err == nil {
		stats.OldestEntry = oldest.CreatedAt.Format(time.RFC3339)
	}
	if err := r.db.WithContext(ctx).Order("created_at DESC").First(&newest).Error; err == nil {
		stats.NewestEntry = newest.CreatedAt.Format(time.RFC3339)
	}

	return stats, nil
}
