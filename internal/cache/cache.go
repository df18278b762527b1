// Package cache defines the tile cache contract shared by every backend.
package cache

import (
	"context"
	"errors"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Interface stores encoded tiles by key. Implementations are safe for
// concurrent use; Put on an existing key overwrites it.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

// Nop is the disabled cache: every Get misses and writes are discarded.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Put(context.Context, string, []byte) error   { return nil }
func (Nop) Delete(context.Context, string) error        { return nil }
