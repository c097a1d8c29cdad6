package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/lightbox/pkg/observability"
)

// Cache kinds with their own TTLs
const (
	CacheAlbum     = "album"
	CacheAlbumList = "album_list"
	CacheBranding  = "branding"
)

// RedisConfig configures the shared Redis client
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	KeyPrefix  string `yaml:"key_prefix"`

	CacheTTL map[string]time.Duration `yaml:"cache_ttl"`
}

// DefaultRedisConfig returns defaults; an empty URL disables Redis
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:   10,
		MaxRetries: 3,
		KeyPrefix:  "lightbox:",
		CacheTTL: map[string]time.Duration{
			CacheAlbum:     10 * time.Minute,
			CacheAlbumList: 2 * time.Minute,
			CacheBranding:  time.Hour,
		},
	}
}

// NewRedisClient parses cfg.URL, applies pool settings and pings the server
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
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Cache is a JSON value cache in Redis. A nil *Cache is a valid, always-missing cache.
type Cache struct {
	client  *redis.Client
	prefix  string
	ttl     map[string]time.Duration
	metrics *observability.Metrics
}

// NewCache wraps client. A nil client yields a nil Cache.
func NewCache(client *redis.Client, cfg RedisConfig, metrics *observability.Metrics) *Cache {
	if client == nil {
		return nil
	}
	ttl := DefaultRedisConfig().CacheTTL
	for k, v := range cfg.CacheTTL {
		ttl[k] = v
	}
	return &Cache{client: client, prefix: cfg.KeyPrefix, ttl: ttl, metrics: metrics}
}

func (c *Cache) key(kind, id string) string {
	return c.prefix + kind + ":" + id
}

// Get loads kind/id into dest. Corrupt entries are deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, kind, id string, dest interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	key := c.key(kind, id)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCache(kind, false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.client.Del(ctx, key)
		c.metrics.RecordCache(kind, false)
		return false, nil
	}
	c.metrics.RecordCache(kind, true)
	return true, nil
}

// Set stores value under kind/id with the kind's TTL
func (c *Cache) Set(ctx context.Context, kind, id string, value interface{}) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.client.Set(ctx, c.key(kind, id), data, c.ttl[kind]).Err()
}

// Invalidate removes kind/id
func (c *Cache) Invalidate(ctx context.Context, kind, id string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(kind, id)).Err()
}

// InvalidateKind removes every entry of kind using SCAN
func (c *Cache) InvalidateKind(ctx context.Context, kind string) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.key(kind, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for %s: %w", kind, err)
	}
	return nil
}
