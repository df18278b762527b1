// Package seed pre-generates tiles for a tileset over a zoom range and
// extent, filling the tile cache.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/engine"
	"github.com/mohammed-shakir/vector-tile-cache/internal/grid"
)

// Tiler is the engine surface the seeder drives.
type Tiler interface {
	GetTile(ctx context.Context, req engine.Request) (engine.Result, error)
	Invalidate(ctx context.Context, req engine.Request) error
	Grid() model.Grid
	Tileset(name string) (model.Tileset, bool)
}

type Options struct {
	Tileset string
	MinZoom int
	MaxZoom int
	// zero value means the full grid extent
	Extent  model.Bounds
	Workers int
	// drop cached tiles before generating them again
	Force bool
	// progress log interval
	Every time.Duration
}

type Stats struct {
	Total     int64
	Generated int64
	Cached    int64
	Partial   int64
	Failed    int64
}

// ExtentFromLonLat converts a WGS84 box into the CRS of g.
func ExtentFromLonLat(g model.Grid, b model.Bounds) (model.Bounds, error) {
	switch g.SRID {
	case 4326:
		return b, nil
	case 3857:
		lo := project.WGS84.ToMercator(orb.Point{b.MinX, b.MinY})
		hi := project.WGS84.ToMercator(orb.Point{b.MaxX, b.MaxY})
		return model.Bounds{MinX: lo.X(), MinY: lo.Y(), MaxX: hi.X(), MaxY: hi.Y()}, nil
	default:
		return model.Bounds{}, fmt.Errorf("cannot project lon/lat into EPSG:%d", g.SRID)
	}
}

// Run generates every tile in the range. It stops early only when ctx is
// canceled; individual tile failures are counted and logged.
func Run(ctx context.Context, t Tiler, log *slog.Logger, opts Options) (Stats, error) {
	if _, ok := t.Tileset(opts.Tileset); !ok {
		return Stats{}, fmt.Errorf("%w: %q", engine.ErrTilesetNotFound, opts.Tileset)
	}
	g := t.Grid()
	if opts.MinZoom < 0 || opts.MaxZoom > g.MaxZoom() || opts.MinZoom > opts.MaxZoom {
		return Stats{}, fmt.Errorf("%w: zoom range %d-%d", engine.ErrInvalidTileAddress, opts.MinZoom, opts.MaxZoom)
	}
	if opts.Extent == (model.Bounds{}) {
		opts.Extent = g.Extent
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Every <= 0 {
		opts.Every = 10 * time.Second
	}

	var ranges []grid.TileRange
	var st Stats
	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		r, err := grid.TilesIn(g, z, opts.Extent)
		if err != nil {
			return Stats{}, err
		}
		ranges = append(ranges, r)
		st.Total += int64(r.Count())
	}
	log.Info("seeding", "tileset", opts.Tileset, "minzoom", opts.MinZoom, "maxzoom", opts.MaxZoom, "tiles", st.Total)

	var generated, cached, partial, failed atomic.Int64
	jobs := make(chan engine.Request)
	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				if opts.Force {
					if err := t.Invalidate(ctx, req); err != nil {
						log.Warn("invalidate failed", "z", req.Z, "x", req.X, "y", req.Y, "err", err)
					}
				}
				res, err := t.GetTile(ctx, req)
				switch {
				case err != nil:
					if ctx.Err() == nil {
						failed.Add(1)
						log.Warn("tile failed", "z", req.Z, "x", req.X, "y", req.Y, "err", err)
					}
				case res.CacheStatus == engine.CacheHit:
					cached.Add(1)
				case res.CacheStatus == engine.CacheBypass:
					partial.Add(1)
				default:
					generated.Add(1)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(opts.Every)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				n := generated.Load() + cached.Load() + partial.Load() + failed.Load()
				log.Info("seed progress", "done", n, "total", st.Total, "failed", failed.Load())
			}
		}
	}()

	var runErr error
feed:
	for _, r := range ranges {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				select {
				case jobs <- engine.Request{Tileset: opts.Tileset, Z: r.Z, X: x, Y: y, Format: "pbf"}:
				case <-ctx.Done():
					runErr = ctx.Err()
					break feed
				}
			}
		}
	}
	close(jobs)
	wg.Wait()
	close(done)

	st.Generated, st.Cached, st.Partial, st.Failed = generated.Load(), cached.Load(), partial.Load(), failed.Load()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	log.Info("seed finished", "generated", st.Generated, "cached", st.Cached, "partial", st.Partial, "failed", st.Failed)
	return st, runErr
}
