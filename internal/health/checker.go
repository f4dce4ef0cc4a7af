// Package health implements the /healthz and /readyz checks (§6): liveness
// is a bare "up", readiness pings the query server's networked dependencies
// (Redis, and best-effort the triple store).
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by anything that can confirm it is reachable — small
// adapter methods on *redis.Client and indexstore.Client. The bbolt
// registry is deliberately not a dependency here: it is owned exclusively
// by the crawler process (§5), and the query server never opens that file,
// so there is nothing of its to ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// dependency pairs a name with its pinger and whether a failure there is
// best-effort (logged but never flips overall status to down).
type dependency struct {
	name       string
	pinger     Pinger
	bestEffort bool
}

// Checker verifies that all dependencies are reachable.
type Checker struct {
	deps   []dependency
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
// redis is a required dependency; tripleStore is pinged best-effort,
// matching the host stack's tolerance of a not-yet-ready downstream store.
func NewChecker(redis, tripleStore Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crawler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		deps: []dependency{
			{name: "redis", pinger: redis},
			{name: "triple_store", pinger: tripleStore, bestEffort: true},
		},
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings every dependency and reports per-check status. A
// best-effort dependency failure is still recorded per-check but never
// flips the overall Status to "down".
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	for _, dep := range c.deps {
		if dep.pinger == nil {
			continue
		}
		if err := dep.pinger.Ping(checkCtx); err != nil {
			c.logger.Warn("dependency health check failed", "dependency", dep.name, "error", err)
			result.Checks[dep.name] = CheckResult{Status: "down", Error: err.Error()}
			c.gauge.WithLabelValues(dep.name).Set(0)
			if !dep.bestEffort {
				result.Status = "down"
			}
		} else {
			result.Checks[dep.name] = CheckResult{Status: "up"}
			c.gauge.WithLabelValues(dep.name).Set(1)
		}
	}

	return result
}
