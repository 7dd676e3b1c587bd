package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores values in Redis so replicas share one memo
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	stats      CacheStats
}

// NewRedisCache wraps a redis client; keys are namespaced by prefix
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, defaultTTL: ttl}
}

func (rc *RedisCache) key(k string) string {
	return rc.prefix + k
}

// Get retrieves a value; redis errors are treated as misses
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("Redis cache get failed", "key", key, "err", err)
		}
		atomic.AddInt64(&rc.stats.Misses, 1)
		return nil, false
	}
	atomic.AddInt64(&rc.stats.Hits, 1)
	return val, true
}

// Set stores a value with a TTL
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}
	if err := rc.client.Set(ctx, rc.key(key), value, ttl).Err(); err != nil {
		return err
	}
	atomic.AddInt64(&rc.stats.Sets, 1)
	return nil
}

// Delete removes a value
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	n, err := rc.client.Del(ctx, rc.key(key)).Result()
	if err != nil {
		return err
	}
	atomic.AddInt64(&rc.stats.Deletes, n)
	return nil
}

// Clear removes every key under the prefix
func (rc *RedisCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rc.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Has checks if a key exists
func (rc *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := rc.client.Exists(ctx, rc.key(key)).Result()
	return err == nil && n > 0
}

// Stats returns cache statistics
func (rc *RedisCache) Stats() CacheStats {
	return CacheStats{
		Hits:    atomic.LoadInt64(&rc.stats.Hits),
		Misses:  atomic.LoadInt64(&rc.stats.Misses),
		Sets:    atomic.LoadInt64(&rc.stats.Sets),
		Deletes: atomic.LoadInt64(&rc.stats.Deletes),
	}
}
