// Package metrics exposes Prometheus collectors for sessions, element
// resolution and scenario results.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grid_runner"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeAborted = "aborted"
)

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Session start attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently open, by platform.",
	}, []string{"platform"})

	TeardownErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "teardown_errors_total",
		Help:      "Errors swallowed while closing sessions.",
	})

	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Time spent waiting for an element, by outcome.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	ScrollSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scroll_steps_total",
		Help:      "Scroll commands issued while searching for elements.",
	})

	ScenarioResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scenarios_total",
		Help:      "Finished scenarios by status.",
	}, []string{"status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
