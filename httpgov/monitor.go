package httpgov

import (
	"context"
	"math"
	"net/http"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/resource"
)

// DefaultProbeTimeout bounds each dependency probe.
const DefaultProbeTimeout = 5 * time.Second

// Probe checks an external dependency, e.g. a converter binary.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// CommandProbe succeeds when the command exits with status 0.
func CommandProbe(name, command string, args ...string) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			return exec.CommandContext(ctx, command, args...).Run()
		},
	}
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status       string          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
	System       resource.Stats  `json:"system"`
	Dependencies map[string]bool `json:"dependencies"`
	Metrics      HealthMetrics   `json:"metrics"`
}

// HealthMetrics summarizes the history for the health endpoint.
type HealthMetrics struct {
	TotalConversions int `json:"totalConversions"`
	// SuccessRate is the mean of the per-tool success rates, 100 when empty.
	SuccessRate int `json:"successRate"`
}

// MetricsHandler serves the governor report.
func MetricsHandler(g *govern.Governor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, g.Report(govern.DefaultReportErrors))
	})
}

// HealthHandler runs the probes concurrently and reports "healthy" when all
// pass, "degraded" otherwise. The status code is 200 in both cases.
func HealthHandler(g *govern.Governor, probes ...Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, Health(r.Context(), g, probes...))
	})
}

// Health evaluates the probes and builds a HealthStatus.
func Health(ctx context.Context, g *govern.Governor, probes ...Probe) HealthStatus {
	results := make([]bool, len(probes))

	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	var eg errgroup.Group
	for i, p := range probes {
		eg.Go(func() error {
			results[i] = p.Check(ctx) == nil
			return nil
		})
	}
	_ = eg.Wait()

	deps := make(map[string]bool, len(probes))
	healthy := true
	for i, p := range probes {
		deps[p.Name] = results[i]
		healthy = healthy && results[i]
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	tools := g.AllToolStats()
	m := HealthMetrics{SuccessRate: 100}
	if len(tools) > 0 {
		var rates float64
		for _, t := range tools {
			m.TotalConversions += t.Total
			rates += t.SuccessRate
		}
		m.SuccessRate = int(math.Round(rates / float64(len(tools))))
	}

	return HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		System:       g.ResourceStats(),
		Dependencies: deps,
		Metrics:      m,
	}
}
