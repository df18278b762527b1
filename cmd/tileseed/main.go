package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/vector-tile-cache/internal/app"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/logger"
	"github.com/mohammed-shakir/vector-tile-cache/internal/seed"
)

func main() {
	os.Exit(run())
}

func parseBounds(s string) (model.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.Bounds{}, fmt.Errorf("expected minx,miny,maxx,maxy, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Bounds{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		v[i] = f
	}
	if v[2] <= v[0] || v[3] <= v[1] {
		return model.Bounds{}, fmt.Errorf("bbox %q is empty", s)
	}
	return model.Bounds{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}

func run() int {
	tileset := flag.String("tileset", "", "tileset to seed")
	tilesetsFile := flag.String("tilesets", "", "tileset file (overrides TILESETS_FILE)")
	minZoom := flag.Int("minzoom", 0, "first zoom level")
	maxZoom := flag.Int("maxzoom", 5, "last zoom level")
	bbox := flag.String("bbox", "", "minx,miny,maxx,maxy; grid CRS unless -lonlat")
	lonlat := flag.Bool("lonlat", false, "bbox is in WGS84 degrees")
	workers := flag.Int("workers", 4, "concurrent tile generations")
	force := flag.Bool("force", false, "regenerate tiles that are already cached")
	every := flag.Duration("progress", 10*time.Second, "progress log interval")
	flag.Parse()

	cfg := config.FromEnv()
	if *tilesetsFile != "" {
		cfg.TilesetsFile = *tilesetsFile
	}
	if cfg.Workers < *workers {
		cfg.Workers = *workers
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   "tileseed",
		Component: "seed",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	observability.Init(nil, false)

	if *tileset == "" {
		appLog.Error("missing -tileset")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	var ext model.Bounds
	if *bbox != "" {
		if ext, err = parseBounds(*bbox); err != nil {
			appLog.Error("invalid bbox", "err", err)
			return 2
		}
		if *lonlat {
			if ext, err = seed.ExtentFromLonLat(a.Tilesets.Grid, ext); err != nil {
				appLog.Error("invalid bbox", "err", err)
				return 2
			}
		}
	}

	st, err := seed.Run(ctx, a.Engine, appLog, seed.Options{
		Tileset: *tileset,
		MinZoom: *minZoom,
		MaxZoom: *maxZoom,
		Extent:  ext,
		Workers: *workers,
		Force:   *force,
		Every:   *every,
	})
	if err != nil {
		appLog.Error("seeding stopped", "err", err, "generated", st.Generated)
		return 1
	}
	if st.Failed > 0 {
		return 1
	}
	return 0
}
