// Package server assembles the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/vector-tile-cache/internal/core/middleware"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/vector-tile-cache/internal/metrics"
	"github.com/mohammed-shakir/vector-tile-cache/internal/mvt"
	"github.com/mohammed-shakir/vector-tile-cache/internal/tileevents"
)

type Deps struct {
	Tiles   router.TileService
	Metrics *metrics.Provider
	Events  tileevents.Sink
	Ready   []health.Check
}

// NewHandler builds the router: health, metrics, tileset index, TileJSON
// and the tile endpoint.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigin))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready...))
	if d.Metrics != nil && d.Metrics.Enabled() {
		r.Method(http.MethodGet, d.Metrics.Path(), d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5, mvt.ContentType, "application/json"))
		router.Mount(r, logger, d.Tiles, router.Options{MaxAge: cfg.MaxAge, Events: d.Events})
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
