package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/projectkepler/kepler/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJob(ctx context.Context, job *models.DetectionJob, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string) (*models.DetectionJob, bool, error)
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheFromClient wraps an existing client. The queue shares this client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Client returns the underlying Redis client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetJob stores a snapshot of a terminal job. Only terminal jobs are cacheable
// because they never change again.
func (c *RedisCache) SetJob(ctx context.Context, job *models.DetectionJob, ttl time.Duration) error {
	if !job.IsTerminal() {
		return fmt.Errorf("job %s is not terminal", job.ID)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, JobKey(job.ID), b, ttl).Err()
}

func (c *RedisCache) GetJob(ctx context.Context, jobID string) (*models.DetectionJob, bool, error) {
	b, err := c.client.Get(ctx, JobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var job models.DetectionJob
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, false, fmt.Errorf("decode cached job: %w", err)
	}
	return &job, true, nil
}

// IncrWindow counts one hit in the fixed window stored at key and returns the
// new count and the time left until the window closes. The expiry is set only
// when the window is opened, so later hits never extend it.
func (c *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := c.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, window)
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	left := ttl.Val()
	if left <= 0 || left > window {
		left = window
	}
	return incr.Val(), left, nil
}
