// Package redisstore keeps encoded tiles in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
)

const backend = "redis"

type settings struct {
	redis  redis.Options
	ttl    time.Duration
	prefix string
}

type Option func(*settings)

func WithPoolSize(n int) Option {
	return func(s *settings) { s.redis.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(s *settings) { s.redis.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) { s.redis.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *settings) { s.redis.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) { s.redis.WriteTimeout = d }
}

func WithPassword(pw string) Option {
	return func(s *settings) { s.redis.Password = pw }
}

func WithDB(db int) Option {
	return func(s *settings) { s.redis.DB = db }
}

// WithTTL expires tiles after d; zero keeps them until evicted.
func WithTTL(d time.Duration) Option {
	return func(s *settings) { s.ttl = d }
}

// WithPrefix namespaces every key, e.g. "tiles:".
func WithPrefix(p string) Option {
	return func(s *settings) { s.prefix = p }
}

type Client struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

var _ cache.Interface = (*Client)(nil)

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := settings{redis: redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}}
	for _, f := range opts {
		f(&s)
	}

	rdb := redis.NewClient(&s.redis)
	c := &Client{rdb: rdb, ttl: s.ttl, prefix: s.prefix}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp(backend, "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns cache.ErrMiss for absent or expired keys.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp(backend, "get", nil, time.Since(start).Seconds())
		return nil, cache.ErrMiss
	}
	observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, nil
}

func (c *Client) Put(ctx context.Context, key string, val []byte) error {
	start := time.Now()
	err := c.rdb.Set(ctx, c.prefix+key, val, c.ttl).Err()
	observability.ObserveCacheOp(backend, "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, c.prefix+key).Err()
	observability.ObserveCacheOp(backend, "delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %q: %w", key, err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
