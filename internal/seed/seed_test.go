package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/engine"
)

type fakeTiler struct {
	mu          sync.Mutex
	seen        map[string]int
	invalidated int
	failAt      string
	hitZoom     int
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeTiler) GetTile(ctx context.Context, req engine.Request) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := fmt.Sprintf("%d/%d/%d", req.Z, req.X, req.Y)
	f.seen[k]++
	if f.cancel != nil && len(f.seen) >= f.cancelAfter {
		f.cancel()
	}
	switch {
	case k == f.failAt:
		return engine.Result{}, engine.ErrTileGenerationFailed
	case req.Z == f.hitZoom:
		return engine.Result{CacheStatus: engine.CacheHit}, nil
	}
	return engine.Result{CacheStatus: engine.CacheMiss}, nil
}

func (f *fakeTiler) Invalidate(context.Context, engine.Request) error {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
	return nil
}

func (f *fakeTiler) Grid() model.Grid { return model.WebMercator() }

func (f *fakeTiler) Tileset(name string) (model.Tileset, bool) {
	return model.Tileset{Name: name}, name == "osm"
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_FullGridPyramid(t *testing.T) {
	f := &fakeTiler{seen: map[string]int{}, failAt: "2/3/1", hitZoom: 1}
	st, err := Run(context.Background(), f, quiet(), Options{Tileset: "osm", MinZoom: 0, MaxZoom: 2, Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 21 || len(f.seen) != 21 {
		t.Fatalf("total=%d seen=%d", st.Total, len(f.seen))
	}
	for k, n := range f.seen {
		if n != 1 {
			t.Fatalf("tile %s requested %d times", k, n)
		}
	}
	if st.Cached != 4 || st.Failed != 1 || st.Generated != 16 {
		t.Fatalf("stats=%+v", st)
	}
	if f.invalidated != 0 {
		t.Fatal("invalidate without Force")
	}
}

func TestRun_ExtentAndForce(t *testing.T) {
	f := &fakeTiler{seen: map[string]int{}, hitZoom: -1}
	// north-east quadrant only
	ext := model.Bounds{MinX: 1, MinY: 1, MaxX: 20037508, MaxY: 20037508}
	st, err := Run(context.Background(), f, quiet(), Options{Tileset: "osm", MinZoom: 1, MaxZoom: 2, Extent: ext, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 5 || f.seen["1/1/0"] != 1 || f.seen["2/3/0"] != 1 || f.seen["1/0/0"] != 0 {
		t.Fatalf("total=%d seen=%v", st.Total, f.seen)
	}
	if f.invalidated != 5 {
		t.Fatalf("invalidated=%d", f.invalidated)
	}
}

func TestRun_Validation(t *testing.T) {
	f := &fakeTiler{seen: map[string]int{}}
	if _, err := Run(context.Background(), f, quiet(), Options{Tileset: "nope", MaxZoom: 1}); !errors.Is(err, engine.ErrTilesetNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := Run(context.Background(), f, quiet(), Options{Tileset: "osm", MinZoom: 3, MaxZoom: 1}); !errors.Is(err, engine.ErrInvalidTileAddress) {
		t.Fatalf("got %v", err)
	}
	if _, err := Run(context.Background(), f, quiet(), Options{Tileset: "osm", MaxZoom: 30}); !errors.Is(err, engine.ErrInvalidTileAddress) {
		t.Fatalf("got %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &fakeTiler{seen: map[string]int{}, hitZoom: -1, cancelAfter: 3, cancel: cancel}
	st, err := Run(ctx, f, quiet(), Options{Tileset: "osm", MinZoom: 0, MaxZoom: 6, Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if len(f.seen) >= int(st.Total) {
		t.Fatalf("seeding did not stop: seen=%d total=%d", len(f.seen), st.Total)
	}
}

func TestExtentFromLonLat(t *testing.T) {
	b, err := ExtentFromLonLat(model.WebMercator(), model.Bounds{MinX: -180, MinY: 0, MaxX: 0, MaxY: 85.0511287798})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(b.MinX+20037508.34) > 1 || math.Abs(b.MaxY-20037508.34) > 1 || math.Abs(b.MinY) > 1e-6 || math.Abs(b.MaxX) > 1e-6 {
		t.Fatalf("got %+v", b)
	}
	g := model.WebMercator()
	g.SRID = 2154
	if _, err := ExtentFromLonLat(g, model.Bounds{}); err == nil {
		t.Fatal("unsupported CRS must fail")
	}
}
