package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Cache stores the most recent filtered rates for a limited time.
type Cache interface {
	Get(ctx context.Context) ([]Rate, bool, error)
	Set(ctx context.Context, rates []Rate) error
}

// MemoryCache keeps rates in process memory. A zero TTL disables caching.
type MemoryCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	rates   []Rate
	expires time.Time
}

func NewMemoryCache(clock clockwork.Clock, ttl time.Duration) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{clock: clock, ttl: ttl}
}

func (c *MemoryCache) Get(context.Context) ([]Rate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rates == nil || !c.clock.Now().Before(c.expires) {
		return nil, false, nil
	}
	return append([]Rate(nil), c.rates...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, rates []Rate) error {
	if c.ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = append([]Rate(nil), rates...)
	c.expires = c.clock.Now().Add(c.ttl)
	return nil
}

const defaultRedisKey = "ratechat:exchange:current"

// RedisCache shares cached rates between relay processes through Redis.
type RedisCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisClient creates a go-redis client from a URL (e.g., "redis://localhost:6379/0").
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, key: defaultRedisKey, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) ([]Rate, bool, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}

	var rates []Rate
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, false, fmt.Errorf("%w: cached rates: %v", ErrMalformedResponse, err)
	}
	return rates, true, nil
}

func (c *RedisCache) Set(ctx context.Context, rates []Rate) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("encode rates: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}
