package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces rate limit counters in a Redis shared with the nonce store.
const DefaultRedisPrefix = "idsite:ratelimit"

// DistributedRateLimiter counts requests in fixed windows stored in Redis, so
// limits hold across instances.
type DistributedRateLimiter struct {
	redis  redis.Cmdable
	config RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(client redis.Cmdable, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &DistributedRateLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

// Name implements Limiter.
func (rl *DistributedRateLimiter) Name() string { return "redis" }

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow implements Limiter. The window starts with the first request for key;
// burst is added to the per-window allowance.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		ttl = rl.config.WindowDuration
	}

	allowance := int64(rl.config.capacity())
	count := incr.Val()
	remaining := allowance - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= allowance,
		Limit:     rl.config.RequestsPerWindow,
		Remaining: int(remaining),
		Reset:     time.Now().Add(ttl),
	}, nil
}

// Reset clears the counter for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
