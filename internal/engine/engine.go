// Package engine answers tile requests: cache lookup, coalesced generation
// on a bounded worker pool, encoding and cache fill.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/keys"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/datasource"
	"github.com/mohammed-shakir/vector-tile-cache/internal/geometry"
	"github.com/mohammed-shakir/vector-tile-cache/internal/grid"
	"github.com/mohammed-shakir/vector-tile-cache/internal/logger"
	"github.com/mohammed-shakir/vector-tile-cache/internal/mvt"
	"github.com/mohammed-shakir/vector-tile-cache/internal/query"
)

type CacheStatus string

const (
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
	// tile generated but not stored because a layer failed
	CacheBypass CacheStatus = "bypass"
)

// Source runs substituted layer queries.
type Source interface {
	Query(ctx context.Context, req datasource.Request) (datasource.Result, error)
	Dialect() query.Dialect
}

type Request struct {
	Tileset string
	Z, X, Y int
	Format  string
	// optional subset; empty means every layer of the tileset
	Layers []string
}

type Result struct {
	Bytes         []byte
	CacheStatus   CacheStatus
	DroppedLayers []string
}

type Options struct {
	Grid     model.Grid
	Tilesets []model.Tileset
	Source   Source
	Cache    cache.Interface
	Logger   *slog.Logger
	// concurrent tile generations; further misses wait for a slot
	Workers int
	// concurrent layer queries within one tile
	LayerWorkers int
	// bound on a single cache get or put
	CacheOpTimeout time.Duration
}

type Engine struct {
	grid      model.Grid
	tilesets  map[string]model.Tileset
	order     []string
	src       Source
	cache     cache.Interface
	log       *slog.Logger
	slots     chan struct{}
	layerCap  int
	opTimeout time.Duration
	flight    singleflight.Group
}

func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: source is required")
	}
	if len(opts.Grid.Resolutions) == 0 {
		return nil, errors.New("engine: grid has no resolutions")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.LayerWorkers <= 0 {
		opts.LayerWorkers = 4
	}
	if opts.CacheOpTimeout <= 0 {
		opts.CacheOpTimeout = time.Second
	}
	e := &Engine{
		grid:      opts.Grid,
		tilesets:  make(map[string]model.Tileset, len(opts.Tilesets)),
		src:       opts.Source,
		cache:     opts.Cache,
		log:       opts.Logger,
		slots:     make(chan struct{}, opts.Workers),
		layerCap:  opts.LayerWorkers,
		opTimeout: opts.CacheOpTimeout,
	}
	for _, ts := range opts.Tilesets {
		if _, dup := e.tilesets[ts.Name]; dup {
			return nil, fmt.Errorf("engine: duplicate tileset %q", ts.Name)
		}
		e.tilesets[ts.Name] = ts
		e.order = append(e.order, ts.Name)
	}
	return e, nil
}

func (e *Engine) Grid() model.Grid { return e.grid }

// Tilesets returns the configured tilesets in declaration order.
func (e *Engine) Tilesets() []model.Tileset {
	out := make([]model.Tileset, 0, len(e.order))
	for _, n := range e.order {
		out = append(out, e.tilesets[n])
	}
	return out
}

func (e *Engine) Tileset(name string) (model.Tileset, bool) {
	ts, ok := e.tilesets[name]
	return ts, ok
}

// SupportedFormat reports whether f names the MVT encoding.
func SupportedFormat(f string) bool {
	switch strings.ToLower(f) {
	case "pbf", "mvt":
		return true
	}
	return false
}

// resolves the requested subset in tileset order; nil means all layers,
// including a list holding only blank names
func selectLayers(ts model.Tileset, names []string) ([]model.Layer, []string, error) {
	if len(names) == 0 {
		return ts.Layers, nil, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := ts.Layer(n); !ok {
			return nil, nil, fmt.Errorf("%w: %q in tileset %q", ErrLayerNotFound, n, ts.Name)
		}
		want[n] = true
	}
	if len(want) == 0 {
		return ts.Layers, nil, nil
	}
	var out []model.Layer
	var subset []string
	for _, l := range ts.Layers {
		if want[l.Name] {
			out = append(out, l)
			subset = append(subset, l.Name)
		}
	}
	if len(out) == len(ts.Layers) {
		return out, nil, nil
	}
	return out, subset, nil
}

// GetTile returns the encoded tile for req, serving from cache when possible.
func (e *Engine) GetTile(ctx context.Context, req Request) (Result, error) {
	ts, ok := e.tilesets[req.Tileset]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrTilesetNotFound, req.Tileset)
	}
	if !SupportedFormat(req.Format) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if err := grid.Validate(e.grid, req.Z, req.X, req.Y); err != nil {
		return Result{}, err
	}
	layers, subset, err := selectLayers(ts, req.Layers)
	if err != nil {
		return Result{}, err
	}

	ctx = logger.WithTileset(ctx, ts.Name)
	key := keys.Tile(ts.Name, subset, req.Z, req.X, req.Y, "pbf")

	if b, ok := e.cacheGet(ctx, key); ok {
		observability.ObserveCacheResult(string(CacheHit))
		return Result{Bytes: b, CacheStatus: CacheHit}, nil
	}

	res, err := e.coalesce(ctx, key, func(gctx context.Context) (Result, error) {
		return e.generate(gctx, ts, layers, req.Z, req.X, req.Y, key)
	})
	if err != nil {
		return Result{}, err
	}
	observability.ObserveCacheResult(string(res.CacheStatus))
	return res, nil
}

func (e *Engine) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	cctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	b, err := e.cache.Get(cctx, key)
	switch {
	case err == nil:
		return b, true
	case errors.Is(err, cache.ErrMiss):
	default:
		// a broken cache degrades to regeneration
		e.log.WarnContext(ctx, "cache get failed", "key", key, "err", err)
	}
	return nil, false
}

type flightResult struct {
	res Result
	err error
}

// coalesce runs fn once per key across concurrent callers. The leader's
// context drives generation; a follower whose own context is still live
// regenerates when the leader was cancelled.
func (e *Engine) coalesce(ctx context.Context, key string, fn func(context.Context) (Result, error)) (Result, error) {
	ch := make(chan flightResult, 1)
	go func() {
		v, err := e.flight.Do(key, func() (any, error) {
			r, err := fn(ctx)
			return r, err
		})
		r, _ := v.(Result)
		ch <- flightResult{res: r, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case fr := <-ch:
		if fr.err != nil && isContextErr(fr.err) && ctx.Err() == nil {
			return fn(ctx)
		}
		return fr.res, fr.err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slots <- struct{}{}:
		observability.IncInflight()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.slots
	observability.DecInflight()
}

type layerOutcome struct {
	layer     mvt.Layer
	attempted bool
	err       error
}

func (e *Engine) generate(ctx context.Context, ts model.Tileset, layers []model.Layer, z, x, y int, key string) (Result, error) {
	if err := e.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer e.release()

	start := time.Now()
	box, err := grid.BoundingBoxFor(e.grid, z, x, y)
	if err != nil {
		return Result{}, err
	}

	outcomes := make([]layerOutcome, len(layers))
	sem := make(chan struct{}, e.layerCap)
	var wg sync.WaitGroup
	for i, l := range layers {
		q, ok := query.Select(l, z)
		if !ok || z < l.MinZoom || z > l.MaxZoom {
			continue
		}
		outcomes[i].attempted = true
		wg.Add(1)
		go func(i int, l model.Layer, q model.Query) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			outcomes[i].layer, outcomes[i].err = e.buildLayer(ctx, ts.Name, l, q, box, z)
		}(i, l, q)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var (
		encoded  []mvt.Layer
		dropped  []string
		failures []error
		tried    int
	)
	for i, o := range outcomes {
		if !o.attempted {
			continue
		}
		tried++
		if o.err != nil {
			dropped = append(dropped, layers[i].Name)
			failures = append(failures, o.err)
			observability.IncLayerFailure(ts.Name, layers[i].Name)
			e.log.WarnContext(ctx, "layer dropped from tile", "layer", layers[i].Name, "z", z, "x", x, "y", y, "err", o.err)
			continue
		}
		if len(o.layer.Features) > 0 {
			encoded = append(encoded, o.layer)
		}
	}
	if tried > 0 && len(failures) == tried {
		return Result{}, fmt.Errorf("%w: %s/%d/%d/%d: %w", ErrTileGenerationFailed, ts.Name, z, x, y, errors.Join(failures...))
	}

	b := mvt.Encode(encoded)
	observability.ObserveGeneration(ts.Name, time.Since(start).Seconds())

	if len(dropped) > 0 {
		return Result{Bytes: b, CacheStatus: CacheBypass, DroppedLayers: dropped}, nil
	}
	e.cachePut(ctx, key, b)
	return Result{Bytes: b, CacheStatus: CacheMiss}, nil
}

// cachePut outlives the request: a client hanging up must not lose the fill.
func (e *Engine) cachePut(ctx context.Context, key string, b []byte) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opTimeout)
	defer cancel()
	if err := e.cache.Put(pctx, key, b); err != nil {
		e.log.WarnContext(ctx, "tile not cached", "key", key, "err", fmt.Errorf("%w: %w", ErrCacheWriteFailed, err))
	}
}

func (e *Engine) buildLayer(ctx context.Context, tileset string, l model.Layer, q model.Query, box model.Bounds, z int) (mvt.Layer, error) {
	res, err := grid.Resolution(e.grid, z)
	if err != nil {
		return mvt.Layer{}, err
	}
	clipBox, err := grid.BufferedBoundingBox(box, l.BufferSize, z, e.grid)
	if err != nil {
		return mvt.Layer{}, err
	}

	sql := query.Substitute(q.SQL, query.Params{
		BBox:       clipBox,
		GridSRID:   e.grid.SRID,
		LayerSRID:  l.SRID,
		Zoom:       z,
		PixelWidth: res,
	}, e.src.Dialect())

	qstart := time.Now()
	rows, err := e.src.Query(ctx, datasource.Request{
		SQL:           sql,
		GeometryField: l.GeometryField,
		FIDField:      l.FIDField,
		Limit:         l.QueryLimit,
	})
	observability.ObserveQuery(tileset, l.Name, time.Since(qstart).Seconds())
	if err != nil {
		return mvt.Layer{}, fmt.Errorf("%w: layer %q: %w", ErrQueryExecutionFailed, l.Name, err)
	}
	observability.AddDroppedFeatures(l.Name, "decode", rows.Skipped)

	opts := geometry.Options{
		Type:      l.GeometryType,
		TileBox:   box,
		ClipBox:   clipBox,
		Clip:      l.Clip,
		Simplify:  l.Simplify,
		Tolerance: l.Tolerance * res,
		Extent:    l.Extent,
	}
	out := mvt.Layer{Name: l.Name, Extent: l.Extent}
	mismatched := 0
	for _, r := range rows.Rows {
		geoms, err := geometry.Process(r.Geometry, opts)
		if err != nil {
			mismatched++
			continue
		}
		for _, g := range geoms {
			out.Features = append(out.Features, mvt.Feature{ID: r.ID, Geometry: g, Attributes: r.Attributes})
		}
	}
	if mismatched > 0 {
		observability.AddDroppedFeatures(l.Name, "type_mismatch", mismatched)
		e.log.DebugContext(ctx, "features dropped", "layer", l.Name, "reason", ErrGeometryTypeMismatch.Error(), "count", mismatched)
	}
	return out, nil
}

// Invalidate removes the cached tile for req so the next request regenerates it.
func (e *Engine) Invalidate(ctx context.Context, req Request) error {
	ts, ok := e.tilesets[req.Tileset]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTilesetNotFound, req.Tileset)
	}
	if err := grid.Validate(e.grid, req.Z, req.X, req.Y); err != nil {
		return err
	}
	_, subset, err := selectLayers(ts, req.Layers)
	if err != nil {
		return err
	}
	dctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return e.cache.Delete(dctx, keys.Tile(ts.Name, subset, req.Z, req.X, req.Y, "pbf"))
}
