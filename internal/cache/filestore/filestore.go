// Package filestore caches tiles as files under a base directory, one file
// per key ("<base>/<tileset>/<z>/<x>/<y>.pbf"), so the tree can be served
// statically.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
)

const backend = "file"

var ErrInvalidKey = errors.New("invalid cache key")

type Store struct {
	base string
	ttl  time.Duration
	now  func() time.Time
}

var _ cache.Interface = (*Store)(nil)

// New creates base if needed. Entries older than ttl miss; ttl <= 0 keeps
// them forever.
func New(base string, ttl time.Duration) (*Store, error) {
	if base == "" {
		return nil, errors.New("filestore: base directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", base, err)
	}
	return &Store{base: base, ttl: ttl, now: time.Now}, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	p := filepath.Join(s.base, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.base, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	b, err := s.get(ctx, key)
	opErr := err
	if errors.Is(err, cache.ErrMiss) {
		opErr = nil
	}
	observability.ObserveCacheOp(backend, "get", opErr, time.Since(start).Seconds())
	return b, err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if s.ttl > 0 {
		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cache.ErrMiss
		}
		if err != nil {
			return nil, fmt.Errorf("filestore stat %s: %w", key, err)
		}
		if s.now().Sub(fi.ModTime()) > s.ttl {
			return nil, cache.ErrMiss
		}
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("filestore read %s: %w", key, err)
	}
	return b, nil
}

// Put writes through a temp file and rename so readers never see a
// partially written tile.
func (s *Store) Put(_ context.Context, key string, val []byte) error {
	start := time.Now()
	err := s.put(key, val)
	observability.ObserveCacheOp(backend, "put", err, time.Since(start).Seconds())
	return err
}

func (s *Store) put(key string, val []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return fmt.Errorf("filestore temp %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(val); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	start := time.Now()
	err := s.del(key)
	observability.ObserveCacheOp(backend, "delete", err, time.Since(start).Seconds())
	return err
}

func (s *Store) del(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore remove %s: %w", key, err)
	}
	return nil
}
