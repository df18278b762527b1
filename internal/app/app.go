// Package app wires configuration, datasource, cache and engine together
// for the server and seeding binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/backend"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-tile-cache/internal/datasource"
	"github.com/mohammed-shakir/vector-tile-cache/internal/engine"
)

type App struct {
	Tilesets *config.Tilesets
	Source   *datasource.Source
	Cache    *backend.Backend
	Engine   *engine.Engine
}

// New loads the tileset file, connects the datasource and opens the cache.
// DATASOURCE_DSN overrides the DSN in the file.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	ts, err := config.LoadTilesets(cfg.TilesetsFile)
	if err != nil {
		return nil, err
	}

	dsn := ts.Datasource.DSN
	if cfg.DatasourceDSN != "" {
		dsn = cfg.DatasourceDSN
	}
	maxOpen := cfg.DBMaxOpenConns
	if ts.Datasource.MaxOpenConns > 0 {
		maxOpen = ts.Datasource.MaxOpenConns
	}
	src, err := datasource.Open(ctx, datasource.Config{
		Driver:       ts.Datasource.Driver,
		DSN:          dsn,
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	cb, err := backend.Open(ctx, cfg.Cache, cfg.MaxAge)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Grid:           ts.Grid,
		Tilesets:       ts.Sets,
		Source:         src,
		Cache:          cb,
		Logger:         log,
		Workers:        cfg.Workers,
		LayerWorkers:   cfg.LayerWorkers,
		CacheOpTimeout: cfg.Cache.OpTimeout,
	})
	if err != nil {
		_ = cb.Close()
		_ = src.Close()
		return nil, err
	}

	log.Info("tile engine ready",
		"tilesets", len(ts.Sets),
		"grid", ts.Grid.Name,
		"datasource", ts.Datasource.Driver,
		"cache", cb.Name)
	return &App{Tilesets: ts, Source: src, Cache: cb, Engine: eng}, nil
}

func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), a.Source.Close())
}
