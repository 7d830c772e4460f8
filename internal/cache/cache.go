package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key written by the service.
const DefaultNamespace = "eventlinter"

// Cache stores catalogue documents, rule test reports and rate-limit
// counters. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}

// RedisCache is a Cache backed by go-redis. Keys are stored as
// "<namespace>:<key>" so one Redis can serve several deployments.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// Option configures a RedisCache.
type Option func(*RedisCache)

// WithNamespace replaces DefaultNamespace. An empty namespace stores keys
// unprefixed.
func WithNamespace(ns string) Option {
	return func(c *RedisCache) { c.namespace = ns }
}

// NewRedisCache parses redisURL (redis:// or rediss://) and returns a cache.
// No connection is made until the first command; call Ping to check.
func NewRedisCache(redisURL string, opts ...Option) (*RedisCache, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := &RedisCache{client: redis.NewClient(ropts), namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RedisCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Get reports found=false for a missing key rather than an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

// IncrWithExpiry counts within a fixed window: the expiry is set by the
// first increment only, so steady traffic cannot keep a window open.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.key(key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
