// Package httpapi exposes the minimal ambient HTTP surface named in the
// runtime's external interfaces: /healthz (aggregating every registered
// check; cmd/agentrt registers one per engine, reporting its adapter's
// health, and no store or bus check) and /metrics (Prometheus
// exposition). It is not a gateway — adapters and business routes never
// live here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckFunc reports a component's health. A nil error means healthy.
type CheckFunc func() error

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks"`
}

// HealthChecker aggregates named health checks (whatever callers Register)
// behind a single HTTP handler.
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewHealthChecker builds an empty checker; register checks with Register.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// Register adds or replaces a named check (e.g. an engine's agent name, or
// "store"/"bus").
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Handler returns the /healthz HTTP handler.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		status := HealthStatus{
			Status: "healthy",
			Uptime: time.Since(h.startTime).String(),
			Checks: make(map[string]string, len(h.checks)),
		}

		for name, check := range h.checks {
			if err := check(); err != nil {
				status.Status = "unhealthy"
				status.Checks[name] = err.Error()
			} else {
				status.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

// NewRouter builds the chi mux serving /healthz and /metrics.
func NewRouter(checker *HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", checker.Handler())
	r.Handle("/metrics", promhttp.Handler())
	return r
}
