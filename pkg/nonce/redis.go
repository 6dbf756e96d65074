package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idsite/pkg/observability"
)

const backendRedis = "redis"

// DefaultRedisPrefix namespaces nonce keys.
const DefaultRedisPrefix = "idsite:nonce"

// RedisConfig configures the Redis connection used by RedisStore.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient parses cfg.URL, applies overrides and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisStore records nonces as keys with a TTL, using SET NX so the first
// writer wins across every instance sharing the Redis server.
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisStore creates a store on client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration, metrics *observability.Metrics) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redis nonce store TTL must be positive, got %s", ttl)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		metrics: metrics,
	}, nil
}

func (s *RedisStore) key(nonce string) string {
	return fmt.Sprintf("%s:%s", s.prefix, nonce)
}

// Has reports whether nonce is recorded.
func (s *RedisStore) Has(ctx context.Context, nonce string) (bool, error) {
	start := time.Now()
	n, err := s.client.Exists(ctx, s.key(nonce)).Result()
	if err != nil {
		s.metrics.ObserveNonceOperation(backendRedis, "has", "error", start)
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	s.metrics.ObserveNonceOperation(backendRedis, "has", hitResult(n > 0), start)
	return n > 0, nil
}

// PutIfAbsent records nonce unless the key already exists.
func (s *RedisStore) PutIfAbsent(ctx context.Context, nonce string) (bool, error) {
	start := time.Now()
	stored, err := s.client.SetNX(ctx, s.key(nonce), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		s.metrics.ObserveNonceOperation(backendRedis, "put", "error", start)
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	s.metrics.ObserveNonceOperation(backendRedis, "put", putResult(stored), start)
	return stored, nil
}
