package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisJobPrefix = "generation:job:"
	redisJobIndex  = "generation:jobs"

	maxCASRetries = 10
)

// redisRepository stores each snapshot as JSON under generation:job:<id>,
// indexed by creation time in the generation:jobs sorted set.
type redisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository creates a Redis-backed job repository
func NewRedisRepository(client redis.UniversalClient) Repository {
	return &redisRepository{client: client}
}

func jobKey(jobID string) string {
	return redisJobPrefix + jobID
}

func (r *redisRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	ok, err := r.client.SetNX(ctx, jobKey(job.JobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	if !ok {
		return ErrJobExists
	}

	err = r.client.ZAdd(ctx, redisJobIndex, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.JobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("indexing job: %w", err)
	}
	return nil
}

func (r *redisRepository) Get(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	data, err := r.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return decodeJob(data)
}

// Update runs a WATCH/MULTI compare-and-swap, retrying when another writer
// touched the key between the read and the write.
func (r *redisRepository) Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error) {
	key := jobKey(jobID)
	var result *models.GenerationJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			result = job
			return ErrJobTerminal
		}

		patch.Apply(job)
		job.UpdatedAt = time.Now()
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encoding job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = job
		}
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrJobTerminal):
			return result, ErrJobTerminal
		case errors.Is(err, ErrJobNotFound):
			return nil, ErrJobNotFound
		default:
			return nil, fmt.Errorf("updating job: %w", err)
		}
	}
	return nil, fmt.Errorf("updating job %s: too much contention", jobID)
}

// FindNonTerminal scans jobs created before updatedBefore, since a job
// cannot have been updated before it was created.
func (r *redisRepository) FindNonTerminal(ctx context.Context, updatedBefore time.Time) ([]*models.GenerationJob, error) {
	ids, err := r.idsCreatedBefore(ctx, updatedBefore)
	if err != nil {
		return nil, err
	}

	var jobs []*models.GenerationJob
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !job.IsTerminal() && job.UpdatedAt.Before(updatedBefore) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (r *redisRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	ids, err := r.idsCreatedBefore(ctx, before)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			r.client.ZRem(ctx, redisJobIndex, id)
			continue
		}
		if err != nil {
			return deleted, err
		}
		if !job.IsTerminal() || !job.UpdatedAt.Before(before) {
			continue
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, jobKey(id))
			pipe.ZRem(ctx, redisJobIndex, id)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting job %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *redisRepository) idsCreatedBefore(ctx context.Context, t time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisJobIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning job index: %w", err)
	}
	return ids, nil
}

func decodeJob(data []byte) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	return &job, nil
}
