// Package redis holds the engine's Redis-backed components: the client
// wrapper shared with the event bus, and the leaderboard snapshot cache that
// feeds trend classification.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned when the key does not exist.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrUnreachable is returned when the initial PING fails.
	ErrUnreachable = errors.New("cache: redis unreachable")

	// ErrCacheSerialization wraps JSON encoding and decoding failures. These
	// are bugs, not outages, so the breaker does not count them.
	ErrCacheSerialization = errors.New("cache: serialization failed")
)

// Config holds the Redis connection settings.
type Config struct {
	// Addr is "host:port".
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	// MaxRetries is go-redis's own per-command retry count. Keep it low:
	// the circuit breaker above it handles sustained outages.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Cache is a go-redis client storing JSON values.
type Cache struct {
	client *redis.Client
}

// NewCache connects and verifies the server answers PING.
func NewCache(cfg Config) (*Cache, error) {
	c := NewCacheLazy(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w at %s: %w", ErrUnreachable, cfg.Addr, err)
	}
	return c, nil
}

// NewCacheLazy creates a Cache without contacting the server.
func NewCacheLazy(cfg Config) *Cache {
	return &Cache{client: redis.NewClient(cfg.options())}
}

// Client exposes the underlying client for pub/sub.
func (c *Cache) Client() *redis.Client { return c.client }

// Ping implements the health check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Close closes the connection pool.
func (c *Cache) Close() error { return c.client.Close() }

// SetJSON stores value encoded as JSON under key. A zero ttl keeps it
// forever.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCacheSerialization, key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCacheSerialization, key, err)
	}
	return nil
}
