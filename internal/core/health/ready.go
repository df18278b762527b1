package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named dependency probed by Readiness.
type Check struct {
	Name string
	P    Pinger
}

// Readiness probes every check with a shared timeout and answers 503 when
// any of them fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready", Checks: map[string]string{}}
		for _, c := range checks {
			if err := c.P.Ping(ctx); err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
