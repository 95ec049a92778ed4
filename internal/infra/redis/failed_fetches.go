package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailedFetch is a fetch that exhausted its retry budget and was parked
// for a later pass.
type FailedFetch struct {
	URL         string    `json:"url"`
	Reason      string    `json:"reason"`
	RetryCount  int       `json:"retry_count"`
	FirstFailed time.Time `json:"first_failed"`
	LastAttempt time.Time `json:"last_attempt"`
}

// FailedFetchRepo implements a Redis-backed requeue of failed fetches.
type FailedFetchRepo struct {
	rdb *redis.Client
}

// NewFailedFetchRepo creates a new Redis-backed failed fetch repository.
func NewFailedFetchRepo(client *Client) *FailedFetchRepo {
	return &FailedFetchRepo{rdb: client.rdb}
}

// Key helpers
func (r *FailedFetchRepo) queueKey() string {
	return "failed_fetches"
}

func (r *FailedFetchRepo) entryKey(url string) string {
	return fmt.Sprintf("failed_fetch:%s", url)
}

// Add parks a failed fetch in the queue. Re-adding the same URL keeps
// its original first-failure time and bumps the retry count.
func (r *FailedFetchRepo) Add(ctx context.Context, url, reason string) error {
	ff := FailedFetch{
		URL:         url,
		Reason:      reason,
		FirstFailed: time.Now(),
		LastAttempt: time.Now(),
	}

	// Preserve history if this URL already failed before
	data, err := r.rdb.Get(ctx, r.entryKey(url)).Bytes()
	if err == nil {
		var prev FailedFetch
		if err := json.Unmarshal(data, &prev); err == nil {
			ff.RetryCount = prev.RetryCount + 1
			ff.FirstFailed = prev.FirstFailed
		}
	} else if err != redis.Nil {
		return fmt.Errorf("failed to get failed fetch: %w", err)
	}

	newData, err := json.Marshal(ff)
	if err != nil {
		return fmt.Errorf("failed to marshal failed fetch: %w", err)
	}

	if err := r.rdb.Set(ctx, r.entryKey(url), newData, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set failed fetch: %w", err)
	}

	// Add to sorted set (score = retry count, lower = retry first)
	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(ff.RetryCount),
		Member: url,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// GetNext retrieves the next failed fetch to retry, or nil when the
// queue is empty.
func (r *FailedFetchRepo) GetNext(ctx context.Context) (*FailedFetch, error) {
	results, err := r.rdb.ZRange(ctx, r.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	url := results[0]

	data, err := r.rdb.Get(ctx, r.entryKey(url)).Bytes()
	if err == redis.Nil {
		// Data expired but URL still in queue, remove it
		r.rdb.ZRem(ctx, r.queueKey(), url)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed fetch: %w", err)
	}

	var ff FailedFetch
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed fetch: %w", err)
	}

	return &ff, nil
}

// MarkResolved removes a failed fetch (successfully retried).
func (r *FailedFetchRepo) MarkResolved(ctx context.Context, url string) error {
	if err := r.rdb.ZRem(ctx, r.queueKey(), url).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}

	if err := r.rdb.Del(ctx, r.entryKey(url)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed fetch: %w", err)
	}

	return nil
}

// GetAll retrieves all parked fetches ordered by retry count.
func (r *FailedFetchRepo) GetAll(ctx context.Context) ([]*FailedFetch, error) {
	urls, err := r.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	fetches := make([]*FailedFetch, 0, len(urls))
	for _, url := range urls {
		data, err := r.rdb.Get(ctx, r.entryKey(url)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed fetch: %w", err)
		}

		var ff FailedFetch
		if err := json.Unmarshal(data, &ff); err != nil {
			continue
		}
		fetches = append(fetches, &ff)
	}

	return fetches, nil
}

// Count returns the number of parked fetches.
func (r *FailedFetchRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
