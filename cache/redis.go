package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/redis/go-redis/v9"
)

var _ interfaces.Cache = (*RedisCache)(nil)

// KeyPrefix namespaces lookup results in a shared Redis
const KeyPrefix = "ndc:rxnav:"

// RedisCache stores one key per NDC so several report runners can share lookups
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL of 0 keeps entries forever
	TTL time.Duration
}

// NewRedisCache connects and pings the server
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logging.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

func redisKey(ndc entities.CanonicalNDC) string {
	return KeyPrefix + string(ndc)
}

func (c *RedisCache) Get(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, bool, error) {
	data, err := c.client.Get(ctx, redisKey(ndc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entities.CacheEntry{}, false, nil
	}
	if err != nil {
		return entities.CacheEntry{}, false, fmt.Errorf("redis get %s: %w", ndc, err)
	}

	var entry entities.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// treat as a miss, the next Put overwrites it
		logging.Warn("Ignoring corrupt cache entry", "ndc", ndc, "error", err)
		return entities.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, ndc entities.CanonicalNDC, entry entities.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(ndc), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", ndc, err)
	}
	return nil
}

// Flush is a no-op, every Put is already durable on the server
func (c *RedisCache) Flush(context.Context) error {
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
