package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.ObserveCacheResult("miss")
	observability.ObserveCacheOp("memory", "get", nil, 0.002)
	observability.ObserveGeneration("osm", 0.04)
	observability.ObserveQuery("osm", "roads", 0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()

	assertHasMetricLine(t, body, "tile_cache_results_total", `outcome="miss"`)
	assertHasMetricLine(t, body, "cache_op_total", `backend="memory"`, `op="get"`, `result="ok"`)
	assertHasMetricLine(t, body, "tile_generation_duration_seconds_count", `tileset="osm"`)
	assertHasMetricLine(t, body, "datasource_query_duration_seconds_bucket", `layer="roads"`)
}
