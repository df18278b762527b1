package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/vector-tile-cache/internal/app"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/health"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/server"
	"github.com/mohammed-shakir/vector-tile-cache/internal/logger"
	"github.com/mohammed-shakir/vector-tile-cache/internal/metrics"
	"github.com/mohammed-shakir/vector-tile-cache/internal/tileevents"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	tilesetsFlag := flag.String("tilesets", "", "tileset file (overrides TILESETS_FILE)")
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *tilesetsFlag != "" {
		cfg.TilesetsFile = strings.TrimSpace(*tilesetsFlag)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "tileserver",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)

	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"tilesets", cfg.TilesetsFile,
		"cache", cfg.Cache.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("close failed", "err", err)
		}
	}()

	var events tileevents.Sink = tileevents.Nop{}
	if cfg.Events.Enabled {
		pub, err := tileevents.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, 0,
			tileevents.WithLocator(tileevents.Locator{Grid: a.Tilesets.Grid, Res: cfg.Events.H3Res}),
			tileevents.WithLogger(appLog))
		if err != nil {
			appLog.Error("tile events setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("tile events close failed", "err", err)
			}
		}()
		events = pub
		appLog.Info("tile events enabled", "topic", cfg.Events.Topic, "h3_res", cfg.Events.H3Res)
	}

	h := server.NewHandler(cfg, appLog, server.Deps{
		Tiles:   a.Engine,
		Metrics: p,
		Events:  events,
		Ready: []health.Check{
			{Name: "datasource", P: a.Source},
			{Name: "cache", P: a.Cache},
		},
	})
	if err := server.Run(ctx, cfg, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
