package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/logging"
)

// Cache abstracts the Redis operations used by the history read paths to make
// testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// historyCacheTTL bounds how stale a cached history response may get.
const historyCacheTTL = time.Minute

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// cacheRetry retries transient Redis failures with exponential backoff. A
// miss (redis.Nil) is an answer, not a failure, and returns immediately.
type cacheRetry struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultCacheRetry() cacheRetry {
	return cacheRetry{
		attempts:       3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (p cacheRetry) get(ctx context.Context, logger *zap.Logger, operation string, cache Cache, key string) (string, error) {
	var value string
	err := p.do(ctx, logger, operation, func() error {
		v, err := cache.Get(ctx, key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (p cacheRetry) set(ctx context.Context, logger *zap.Logger, operation string, cache Cache, key, value string) error {
	return p.do(ctx, logger, operation, func() error {
		return cache.Set(ctx, key, value, historyCacheTTL)
	})
}

func (p cacheRetry) do(ctx context.Context, logger *zap.Logger, operation string, fn func() error) error {
	opLogger := logging.WithOperation(logger, operation, "")
	backoff := p.initialBackoff
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == p.attempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return err
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return err
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}

	var temporaryErr interface{ Temporary() bool }
	if errors.As(err, &temporaryErr) && temporaryErr.Temporary() {
		return true
	}

	return false
}
