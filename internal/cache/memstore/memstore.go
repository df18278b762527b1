// Package memstore is an in-process LRU tile cache.
package memstore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
)

const backend = "memory"

const DefaultSize = 10000

type Store struct {
	lru *expirable.LRU[string, []byte]
}

var _ cache.Interface = (*Store)(nil)

// New keeps at most size tiles; ttl <= 0 disables expiry.
func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
		return nil, err
	}
	v, ok := s.lru.Get(key)
	observability.ObserveCacheOp(backend, "get", nil, time.Since(start).Seconds())
	if !ok {
		return nil, cache.ErrMiss
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Put(_ context.Context, key string, val []byte) error {
	start := time.Now()
	s.lru.Add(key, append([]byte(nil), val...))
	observability.ObserveCacheOp(backend, "put", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	start := time.Now()
	s.lru.Remove(key)
	observability.ObserveCacheOp(backend, "delete", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Len() int { return s.lru.Len() }
