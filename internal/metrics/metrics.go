// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exposes. Registering on an
// explicit registry keeps tests isolated from global state.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	CacheLookupsTotal *prometheus.CounterVec
	CacheEntries      prometheus.Gauge

	ClassificationsTotal *prometheus.CounterVec

	LearningCyclesTotal  *prometheus.CounterVec
	LearningPhaseActions *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gurag_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gurag_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gurag_cache_lookups_total",
			Help: "Cache lookups by outcome (semantic, exact, miss).",
		}, []string{"outcome"}),

		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gurag_cache_entries",
			Help: "Live cache entries at last stats read.",
		}),

		ClassificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gurag_classifications_total",
			Help: "Query classifications by tier and resulting type.",
		}, []string{"query_type"}),

		LearningCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gurag_learning_cycles_total",
			Help: "Maintenance cycles by result (completed, failed, conflict).",
		}, []string{"result"}),

		LearningPhaseActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gurag_learning_phase_actions_total",
			Help: "Entries touched by each maintenance phase.",
		}, []string{"phase"}),
	}
}
