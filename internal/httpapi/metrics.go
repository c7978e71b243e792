package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bugbind Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec

	matchesTotal   *prometheus.CounterVec
	gateChecks     *prometheus.CounterVec
	correctionsRec prometheus.Counter
}

// NewMetrics creates and registers the instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugbind_http_requests_total",
			Help: "HTTP requests by method, endpoint, and status code.",
		}, []string{"method", "endpoint", "status"}),
		requestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bugbind_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by method and endpoint.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "endpoint"}),
		matchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugbind_matches_total",
			Help: "Matches produced, by source (model, learned, auto).",
		}, []string{"source"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugbind_gate_outcomes_total",
			Help: "Per-test outcomes of the bug-resolved workflow.",
		}, []string{"outcome"}),
		correctionsRec: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bugbind_corrections_total",
			Help: "User corrections recorded.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDur, m.matchesTotal, m.gateChecks, m.correctionsRec)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records per-request count and duration. Routed paths are used
// as the endpoint label, so parameterized routes cannot explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			m.requestsTotal.WithLabelValues(
				c.Request().Method, endpoint, http.StatusText(c.Response().Status)).Inc()
			m.requestDur.WithLabelValues(c.Request().Method, endpoint).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordMatch counts one produced match by source.
func (m *Metrics) RecordMatch(learned, autoMatched bool) {
	switch {
	case autoMatched:
		m.matchesTotal.WithLabelValues("auto").Inc()
	case learned:
		m.matchesTotal.WithLabelValues("learned").Inc()
	default:
		m.matchesTotal.WithLabelValues("model").Inc()
	}
}

// RecordOutcome counts one per-test resolution outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	m.gateChecks.WithLabelValues(outcome).Inc()
}

// RecordCorrection counts one recorded correction.
func (m *Metrics) RecordCorrection() {
	m.correctionsRec.Inc()
}
