package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests per fixed window in Redis so that
// every replica shares one budget
type DistributedRateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "portal:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config.normalized(),
		prefix: prefix,
	}
}

// Allow increments key's counter for the current window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}

	// The first request of a window starts its clock
	retryAfter := ttl.Val()
	if retryAfter < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
		retryAfter = rl.config.WindowDuration
	}

	if incr.Val() <= int64(rl.config.RequestsPerWindow) {
		return true, 0, nil
	}
	if retryAfter <= 0 {
		retryAfter = rl.config.WindowDuration
	}
	return false, retryAfter, nil
}

// Reset clears the counter of key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}
