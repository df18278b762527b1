// Package observability records the service's Prometheus metrics.
// Until Init registers the collectors every recorder is a no-op.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	cacheResults       *prometheus.CounterVec
	cacheOps           *prometheus.CounterVec
	cacheOpDuration    *prometheus.HistogramVec
	generationDuration *prometheus.HistogramVec
	queryDuration      *prometheus.HistogramVec
	layerFailures      *prometheus.CounterVec
	droppedFeatures    *prometheus.CounterVec
	inflight           prometheus.Gauge
	events             *prometheus.CounterVec
}

var current atomic.Pointer[collectors]

func newCollectors() *collectors {
	latency := prometheus.ExponentialBuckets(0.001, 2, 15) // 1ms to ~16s
	return &collectors{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: latency,
		}, []string{"method", "route", "status"}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile lookups by cache outcome.",
		}, []string{"outcome"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by result.",
		}, []string{"backend", "op", "result"}),
		cacheOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Latency of cache backend operations.",
			Buckets: latency,
		}, []string{"backend", "op"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tile_generation_duration_seconds",
			Help:    "Time spent generating a tile on cache miss.",
			Buckets: latency,
		}, []string{"tileset"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datasource_query_duration_seconds",
			Help:    "Latency of layer queries against the datasource.",
			Buckets: latency,
		}, []string{"tileset", "layer"}),
		layerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_layer_failures_total",
			Help: "Layers dropped from a tile because their query failed.",
		}, []string{"tileset", "layer"}),
		droppedFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_dropped_features_total",
			Help: "Features dropped during geometry processing.",
		}, []string{"layer", "reason"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tile_generations_inflight",
			Help: "Tile generations currently holding a worker slot.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_events_total",
			Help: "Tile events handed to the publisher by result.",
		}, []string{"result"}),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.httpRequests, c.httpDuration, c.cacheResults, c.cacheOps, c.cacheOpDuration,
		c.generationDuration, c.queryDuration, c.layerFailures, c.droppedFeatures,
		c.inflight, c.events,
	}
}

// Init registers a fresh set of collectors on reg. With enabled=false the
// recorders stay no-ops.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		current.Store(nil)
		return
	}
	c := newCollectors()
	for _, col := range c.all() {
		reg.MustRegister(col)
	}
	current.Store(c)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, route, st).Inc()
	c.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveCacheResult counts a tile lookup as hit, miss or bypass.
func ObserveCacheResult(outcome string) {
	if c := current.Load(); c != nil {
		c.cacheResults.WithLabelValues(outcome).Inc()
	}
}

func ObserveCacheOp(backend, op string, err error, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	c.cacheOps.WithLabelValues(backend, op, resultLabel(err)).Inc()
	c.cacheOpDuration.WithLabelValues(backend, op).Observe(durationSeconds)
}

func ObserveGeneration(tileset string, durationSeconds float64) {
	if c := current.Load(); c != nil {
		c.generationDuration.WithLabelValues(tileset).Observe(durationSeconds)
	}
}

func ObserveQuery(tileset, layer string, durationSeconds float64) {
	if c := current.Load(); c != nil {
		c.queryDuration.WithLabelValues(tileset, layer).Observe(durationSeconds)
	}
}

func IncLayerFailure(tileset, layer string) {
	if c := current.Load(); c != nil {
		c.layerFailures.WithLabelValues(tileset, layer).Inc()
	}
}

func AddDroppedFeatures(layer, reason string, n int) {
	if n <= 0 {
		return
	}
	if c := current.Load(); c != nil {
		c.droppedFeatures.WithLabelValues(layer, reason).Add(float64(n))
	}
}

func IncInflight() {
	if c := current.Load(); c != nil {
		c.inflight.Inc()
	}
}

func DecInflight() {
	if c := current.Load(); c != nil {
		c.inflight.Dec()
	}
}

// IncTileEvent counts publisher outcomes: queued, dropped, error.
func IncTileEvent(result string) {
	if c := current.Load(); c != nil {
		c.events.WithLabelValues(result).Inc()
	}
}
