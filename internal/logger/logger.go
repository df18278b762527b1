// Package logger builds the process zerolog logger and carries
// request-scoped log fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
}

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxTileset   ctxKey = "tileset"
	ctxComponent ctxKey = "component"
	ctxCache     ctxKey = "cache"
)

// fields copied from the context onto every record, in this order
var ctxFields = []ctxKey{ctxRequestID, ctxTileset, ctxComponent, ctxCache}

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxRequestID, reqID)
}

func WithTileset(ctx context.Context, tileset string) context.Context {
	return withValue(ctx, ctxTileset, tileset)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withValue(ctx, ctxComponent, component)
}

// WithCacheStatus tags records with the cache outcome (hit, miss, bypass).
func WithCacheStatus(ctx context.Context, status string) context.Context {
	return withValue(ctx, ctxCache, status)
}

func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestID).(string)
	return s
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > int(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out).Level(parseLevel(cfg.Level))
	if n := safeUint32(cfg.SampleN); n > 1 {
		base = base.Sample(&zerolog.BasicSampler{N: n})
	}

	zc := base.With().Timestamp()
	if cfg.Service != "" {
		zc = zc.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		zc = zc.Str("component", cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context's log fields.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	for _, k := range ctxFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
