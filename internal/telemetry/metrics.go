// Package telemetry provides observability for the agentdesk runtime.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the agentdesk runtime. All
// collectors hang off a private registry so tests can build isolated
// instances without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive       prometheus.Gauge
	SessionsCreated      prometheus.Counter
	SessionsEvicted      prometheus.Counter
	SessionsExpired      prometheus.Counter
	InteractionsRecorded prometheus.Counter
	SweepDuration        prometheus.Histogram

	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentdesk_sessions_active",
			Help: "Sessions currently held by the store.",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_sessions_created_total",
			Help: "Total sessions created.",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_sessions_evicted_total",
			Help: "Sessions evicted to satisfy per-user quotas.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_sessions_expired_total",
			Help: "Sessions removed by expiry sweeps.",
		}),
		InteractionsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_interactions_recorded_total",
			Help: "Query/response exchanges folded into sessions.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentdesk_sweep_duration_seconds",
			Help:    "Expiry sweep latency.",
			Buckets: prometheus.DefBuckets,
		}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_queries_total",
			Help: "Queries processed, by agent type and outcome.",
		}, []string{"agent", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentdesk_query_duration_seconds",
			Help:    "End-to-end query latency, by agent type.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent"}),
	}
}

// Handler returns an HTTP handler that serves the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
