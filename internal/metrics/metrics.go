// Package metrics holds the Prometheus instrumentation for this process,
// following internal/agent.NewAgentMetrics's pattern of a standalone
// registry (this process is not a controller-runtime manager, so there is
// no ambient registry to attach to).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram this process exports.
type Metrics struct {
	registry *prometheus.Registry

	RefreshDuration *prometheus.HistogramVec
	RefreshTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FetchTotal      *prometheus.CounterVec
	TemplateErrors  *prometheus.CounterVec

	ReconcileDuration prometheus.Histogram
	ReconcileTotal    *prometheus.CounterVec
	ActiveSources     prometheus.Gauge
	FilteredSources   prometheus.Gauge
	Ready             prometheus.Gauge

	DriftDetected    *prometheus.CounterVec
	BroadcastRepliesMissing *prometheus.CounterVec
}

// New creates and registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scm",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of master-side source refresh operations.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source_id", "kind"}),

		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "refresh_total",
			Help:      "Total number of source refresh attempts.",
		}, []string{"source_id", "kind", "result"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scm",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of slave-side tarball fetch operations.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source_id"}),

		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "fetch_total",
			Help:      "Total number of slave-side tarball fetch attempts.",
		}, []string{"source_id", "result"}),

		TemplateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "template_errors_total",
			Help:      "Total number of per-file template expansion failures.",
		}, []string{"source_id"}),

		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scm",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of full reconcile passes.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "reconcile_total",
			Help:      "Total number of reconcile passes, by outcome.",
		}, []string{"result"}),

		ActiveSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scm",
			Name:      "active_sources",
			Help:      "Number of sources currently in the active set.",
		}),

		FilteredSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scm",
			Name:      "filtered_sources",
			Help:      "Number of sources currently filtered out on this node.",
		}),

		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scm",
			Name:      "ready",
			Help:      "Whether the last reconcile left every source loaded (1=READY, 0=ERROR).",
		}),

		DriftDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "drift_detected_total",
			Help:      "Total number of times the drift detector found a hash disagreement.",
		}, []string{"source_id"}),

		BroadcastRepliesMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "broadcast_replies_missing_total",
			Help:      "Total number of broadcast RPCs where at least one slave failed to reply in time.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.RefreshDuration, m.RefreshTotal,
		m.FetchDuration, m.FetchTotal,
		m.TemplateErrors,
		m.ReconcileDuration, m.ReconcileTotal,
		m.ActiveSources, m.FilteredSources, m.Ready,
		m.DriftDetected, m.BroadcastRepliesMissing,
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
