// Package router maps tile URLs onto the engine.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/engine"
	"github.com/mohammed-shakir/vector-tile-cache/internal/logger"
	"github.com/mohammed-shakir/vector-tile-cache/internal/mvt"
	"github.com/mohammed-shakir/vector-tile-cache/internal/tileevents"
)

const tileRoute = "/{tileset}/{z}/{x}/{y}"

// TileService is the engine surface the handlers need.
type TileService interface {
	GetTile(ctx context.Context, req engine.Request) (engine.Result, error)
	Tilesets() []model.Tileset
	Grid() model.Grid
}

type Options struct {
	// client cache lifetime for cacheable tiles
	MaxAge time.Duration
	Events tileevents.Sink
}

// Mount registers the tile, index and TileJSON routes on r.
func Mount(r chi.Router, logger *slog.Logger, svc TileService, opts Options) {
	if opts.Events == nil {
		opts.Events = tileevents.Nop{}
	}
	r.Get("/index.json", HandleIndex(svc))
	r.Get("/{tileset}.json", HandleTileJSON(svc))
	r.Get("/{tileset}/style.json", HandleStyle(svc))
	r.Get("/{tileset}/{z}/{x}/{tile}", HandleTile(logger, svc, opts))
}

// ParseTileRequest reads the tile address from the route params and the
// optional comma separated layers query parameter.
func ParseTileRequest(r *http.Request) (engine.Request, error) {
	req := engine.Request{Tileset: chi.URLParam(r, "tileset")}

	tile := chi.URLParam(r, "tile")
	dot := strings.LastIndexByte(tile, '.')
	if dot <= 0 || dot == len(tile)-1 {
		return engine.Request{}, fmt.Errorf("%w: missing format in %q", engine.ErrUnsupportedFormat, tile)
	}
	req.Format = tile[dot+1:]

	var err error
	if req.Z, err = parseCoord("z", chi.URLParam(r, "z")); err != nil {
		return engine.Request{}, err
	}
	if req.X, err = parseCoord("x", chi.URLParam(r, "x")); err != nil {
		return engine.Request{}, err
	}
	if req.Y, err = parseCoord("y", tile[:dot]); err != nil {
		return engine.Request{}, err
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("layers")); raw != "" {
		for l := range strings.SplitSeq(raw, ",") {
			if l = strings.TrimSpace(l); l != "" {
				req.Layers = append(req.Layers, l)
			}
		}
	}
	return req, nil
}

func parseCoord(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", engine.ErrInvalidTileAddress, name, v)
	}
	return n, nil
}

// StatusFor maps engine errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidTileAddress), errors.Is(err, engine.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTilesetNotFound), errors.Is(err, engine.ErrLayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func HandleTile(log *slog.Logger, svc TileService, opts Options) http.HandlerFunc {
	maxAge := int(opts.MaxAge / time.Second)
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, tileRoute, sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseTileRequest(r)
		if err != nil {
			http.Error(sw, err.Error(), StatusFor(err))
			return
		}

		ctx := logger.WithTileset(r.Context(), req.Tileset)
		res, err := svc.GetTile(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
				// client went away
				sw.code = 499
				log.DebugContext(ctx, "tile request canceled", "z", req.Z, "x", req.X, "y", req.Y)
				return
			}
			code := StatusFor(err)
			if code >= 500 {
				log.ErrorContext(ctx, "tile request failed", "z", req.Z, "x", req.X, "y", req.Y, "err", err)
			}
			http.Error(sw, err.Error(), code)
			return
		}

		ctx = logger.WithCacheStatus(ctx, string(res.CacheStatus))
		h := sw.Header()
		h.Set("Content-Type", mvt.ContentType)
		h.Set("X-Cache", strings.ToUpper(string(res.CacheStatus)))
		if res.CacheStatus == engine.CacheBypass {
			h.Set("Cache-Control", "no-cache")
			h.Set("X-Dropped-Layers", strings.Join(res.DroppedLayers, ","))
		} else {
			h.Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
		}
		sw.WriteHeader(http.StatusOK)
		if _, err := sw.Write(res.Bytes); err != nil {
			log.DebugContext(ctx, "tile write failed", "err", err)
		}

		opts.Events.Publish(tileevents.Event{
			Tileset:    req.Tileset,
			Z:          req.Z,
			X:          req.X,
			Y:          req.Y,
			Cache:      string(res.CacheStatus),
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			Dropped:    res.DroppedLayers,
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type IndexEntry struct {
	Name       string `json:"name"`
	LayerInfos string `json:"layerinfos"`
	HasViewer  bool   `json:"hasviewer"`
}

// Index lists tilesets sorted by name; a viewer is offered when every
// layer has a known geometry type.
func Index(sets []model.Tileset) []IndexEntry {
	out := make([]IndexEntry, 0, len(sets))
	for _, ts := range sets {
		e := IndexEntry{Name: ts.Name, HasViewer: true}
		infos := make([]string, 0, len(ts.Layers))
		for _, l := range ts.Layers {
			infos = append(infos, fmt.Sprintf("%s [%s]", l.Name, l.GeometryType))
			if l.GeometryType == model.GeometryUnknown {
				e.HasViewer = false
			}
		}
		e.LayerInfos = strings.Join(infos, ", ")
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b IndexEntry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func HandleIndex(svc TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Index(svc.Tilesets()))
	}
}

type VectorLayer struct {
	ID      string            `json:"id"`
	MinZoom int               `json:"minzoom"`
	MaxZoom int               `json:"maxzoom"`
	Fields  map[string]string `json:"fields"`
}

type TileJSON struct {
	TileJSON     string        `json:"tilejson"`
	Name         string        `json:"name"`
	Attribution  string        `json:"attribution,omitempty"`
	Scheme       string        `json:"scheme"`
	Tiles        []string      `json:"tiles"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	Center       []float64     `json:"center,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers"`
}

func HandleTileJSON(svc TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, ok := lookupTileset(w, r, svc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, buildTileJSON(ts, svc.Grid(), baseURL(r)))
	}
}

// HandleStyle serves the style document declared next to the tileset.
func HandleStyle(svc TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, ok := lookupTileset(w, r, svc)
		if !ok {
			return
		}
		if len(ts.Style) == 0 {
			http.Error(w, fmt.Sprintf("tileset %q has no style", ts.Name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, ts.Style)
	}
}

// writes a 404 when the {tileset} parameter names nothing
func lookupTileset(w http.ResponseWriter, r *http.Request, svc TileService) (model.Tileset, bool) {
	name := chi.URLParam(r, "tileset")
	for _, s := range svc.Tilesets() {
		if s.Name == name {
			return s, true
		}
	}
	http.Error(w, fmt.Sprintf("%v: %q", engine.ErrTilesetNotFound, name), http.StatusNotFound)
	return model.Tileset{}, false
}

func buildTileJSON(ts model.Tileset, g model.Grid, base string) TileJSON {
	tj := TileJSON{
		TileJSON:    "2.2.0",
		Name:        ts.Name,
		Attribution: ts.Attribution,
		Scheme:      "xyz",
		Tiles:       []string{base + "/" + ts.Name + "/{z}/{x}/{y}.pbf"},
		MinZoom:     g.MaxZoom(),
		Center:      ts.Center,
	}
	if g.Origin == model.OriginBottomLeft {
		tj.Scheme = "tms"
	}
	for _, l := range ts.Layers {
		tj.MinZoom = min(tj.MinZoom, l.MinZoom)
		tj.MaxZoom = max(tj.MaxZoom, l.MaxZoom)
		tj.VectorLayers = append(tj.VectorLayers, VectorLayer{
			ID: l.Name, MinZoom: l.MinZoom, MaxZoom: l.MaxZoom, Fields: map[string]string{},
		})
	}
	if len(ts.Layers) == 0 {
		tj.MinZoom = 0
	}
	return tj
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
