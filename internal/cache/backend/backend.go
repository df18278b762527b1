// Package backend opens the tile cache selected by configuration.
package backend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/filestore"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/s3store"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
)

type Backend struct {
	cache.Interface
	Name  string
	ping  func(context.Context) error
	close func() error
}

// Ping reports reachability for networked backends; local ones are always up.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the backend named by cfg.Backend. maxAge sets the
// Cache-Control stored with S3 objects.
func Open(ctx context.Context, cfg config.CacheCfg, maxAge time.Duration) (*Backend, error) {
	switch cfg.Backend {
	case "", "none", "off":
		return &Backend{Interface: cache.Nop{}, Name: "none"}, nil
	case "memory":
		return &Backend{Interface: memstore.New(cfg.MemorySize, cfg.TTL), Name: "memory"}, nil
	case "file":
		fs, err := filestore.New(cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return &Backend{Interface: fs, Name: "file"}, nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("cache backend redis: %w", err)
		}
		return &Backend{Interface: rc, Name: "redis", ping: rc.Ping, close: rc.Close}, nil
	case "s3":
		st, err := s3store.New(ctx, s3store.Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3PathStyle,
			CacheControl: "public, max-age=" + strconv.Itoa(int(maxAge/time.Second)),
		})
		if err != nil {
			return nil, fmt.Errorf("cache backend s3: %w", err)
		}
		return s3Backend(st), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func s3Backend(st *s3store.Store) *Backend {
	return &Backend{Interface: st, Name: "s3", ping: st.Ping}
}

func redisOptions(cfg config.CacheCfg) []redisstore.Option {
	opts := []redisstore.Option{
		redisstore.WithPrefix(cfg.RedisPrefix),
		redisstore.WithTTL(cfg.TTL),
	}
	if cfg.RedisPassword != "" {
		opts = append(opts, redisstore.WithPassword(cfg.RedisPassword))
	}
	if cfg.RedisDB > 0 {
		opts = append(opts, redisstore.WithDB(cfg.RedisDB))
	}
	if cfg.RedisPoolSize > 0 {
		opts = append(opts, redisstore.WithPoolSize(cfg.RedisPoolSize))
	}
	if cfg.RedisMinIdleConns > 0 {
		opts = append(opts, redisstore.WithMinIdleConns(cfg.RedisMinIdleConns))
	}
	if cfg.RedisDialTimeout > 0 {
		opts = append(opts, redisstore.WithDialTimeout(cfg.RedisDialTimeout))
	}
	if cfg.RedisReadTimeout > 0 {
		opts = append(opts, redisstore.WithReadTimeout(cfg.RedisReadTimeout))
	}
	if cfg.RedisWriteTimeout > 0 {
		opts = append(opts, redisstore.WithWriteTimeout(cfg.RedisWriteTimeout))
	}
	return opts
}
