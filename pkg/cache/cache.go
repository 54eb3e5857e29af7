// Package cache provides the tenant-scoped caching layer that wraps
// expensive reads. Values are JSON-serialized into Redis with a TTL, with
// an optional in-process LRU in front. Cache failures never propagate to
// callers: reads degrade to misses and writes to no-ops, logged only.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// l1Entry is a value held in the in-process LRU with its own expiry
type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a tenant-namespaced key-value cache over Redis with an optional
// LRU L1. It is never authoritative: every entry is reconstructable from
// source data.
type Cache struct {
	redis   *redis.Client
	l1      *lru.Cache[string, l1Entry]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Options configures the cache layer
type Options struct {
	// L1Size is the entry capacity of the in-process LRU. Zero disables it.
	L1Size int
	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observability.Metrics
}

// New creates a cache layer over the given Redis client
func New(client *redis.Client, logger *observability.Logger, opts Options) *Cache {
	c := &Cache{
		redis:   client,
		logger:  logger,
		metrics: opts.Metrics,
	}

	if opts.L1Size > 0 {
		// lru.New only errors on non-positive size
		l1, err := lru.New[string, l1Entry](opts.L1Size)
		if err == nil {
			c.l1 = l1
		}
	}

	return c
}

// NewFromURL creates a cache layer from a Redis URL
func NewFromURL(redisURL, password string, db int, logger *observability.Logger, opts Options) (*Cache, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		redisOpts.Password = password
	}
	if db >= 0 {
		redisOpts.DB = db
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, logger, opts), nil
}

// Get returns the raw cached bytes for key. A backend error is logged and
// reported as a miss, never returned.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.l1 != nil {
		if entry, ok := c.l1.Get(key); ok {
			if time.Now().Before(entry.expiresAt) {
				c.recordHit("l1")
				return entry.value, true
			}
			c.l1.Remove(key)
		}
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordMiss("redis")
		return nil, false
	}
	if err != nil {
		c.recordError("get")
		c.logger.WithError(err).WithField("key", key).Warn("cache get failed, treating as miss")
		return nil, false
	}

	c.recordHit("redis")
	return data, true
}

// Set stores value under key with a TTL. Backend errors are absorbed and
// logged.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.l1 != nil {
		c.l1.Add(key, l1Entry{value: value, expiresAt: time.Now().Add(ttl)})
	}

	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		c.recordError("set")
		c.logger.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

// Del removes keys. Backend errors are absorbed and logged.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	if c.l1 != nil {
		for _, key := range keys {
			c.l1.Remove(key)
		}
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.recordError("del")
		c.logger.WithError(err).WithField("keys", keys).Warn("cache delete failed")
	}
}

// DelPattern removes all keys matching a glob pattern via SCAN. Used for
// tenant-wide invalidation. Errors are absorbed and logged.
func (c *Cache) DelPattern(ctx context.Context, pattern string) {
	if c.l1 != nil {
		// The LRU has no pattern support; entries expire on their own TTL.
		c.l1.Purge()
	}

	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.recordError("del")
			c.logger.WithError(err).WithField("key", iter.Val()).Warn("cache delete failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.recordError("scan")
		c.logger.WithError(err).WithField("pattern", pattern).Warn("cache scan failed")
	}
}

// Wrap returns the cached value for key when present and not expired,
// otherwise invokes producer, stores its result with the TTL, and returns
// it. The result is decoded into dest through a JSON round-trip in both
// paths so cached and fresh responses have identical shapes.
//
// Wrap is safe to call concurrently for the same key, but at-most-one
// producer execution is NOT guaranteed: concurrent identical misses each
// invoke the producer and each write the key (last write wins). That is an
// accepted inefficiency since producers are idempotent pure reads.
func (c *Cache) Wrap(ctx context.Context, key string, ttl time.Duration, dest interface{}, producer func(context.Context) (interface{}, error)) error {
	if data, ok := c.Get(ctx, key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			return nil
		}
		// Corrupt entry: drop it and fall through to the producer
		c.Del(ctx, key)
	}

	result, err := producer(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize cache value: %w", err)
	}

	c.Set(ctx, key, data, ttl)
	return json.Unmarshal(data, dest)
}

// Ping checks backend connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.redis.Close()
}

// Client returns the underlying Redis client for health checks
func (c *Cache) Client() *redis.Client {
	return c.redis
}

func (c *Cache) recordHit(layer string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(layer).Inc()
	}
}

func (c *Cache) recordMiss(layer string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(layer).Inc()
	}
}

func (c *Cache) recordError(operation string) {
	if c.metrics != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(operation).Inc()
	}
}
