package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter implements a fixed window limiter shared by every instance
type RedisLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed rate limiter
func NewRedisLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = LoginRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts the request in the current window. The window starts with
// the first request and expires after WindowDuration.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}
	window := ttl.Val()
	if window < 0 {
		// new key without expiry
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
		}
		window = rl.config.WindowDuration
	}

	count := int(incr.Val())
	d := Decision{Limit: rl.config.RequestsPerWindow}
	if count <= rl.config.RequestsPerWindow {
		d.Allowed = true
		d.Remaining = rl.config.RequestsPerWindow - count
		return d, nil
	}
	d.RetryAfter = window
	return d, nil
}

// Reset clears the counter for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
