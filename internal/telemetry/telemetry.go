// Package telemetry exposes Prometheus metrics for the ingest path, the
// rule engine and the event stream. Each Metrics value owns its registry so
// tests never collide on the global default.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Ingest result labels.
const (
	ResultOK         = "ok"
	ResultValidation = "validation_error"
	ResultNotFound   = "not_found"
	ResultTransient  = "transient_error"
)

// Metrics bundles every instrument the server exports.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal      *prometheus.CounterVec
	IngestSeconds    prometheus.Histogram
	AlertTransitions *prometheus.CounterVec
	EntitiesByStatus *prometheus.GaugeVec
}

// New builds a Metrics with its own registry, runtime collectors included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_ingest_total",
			Help: "Ingested metric batches by result.",
		}, []string{"result"}),
		IngestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_ingest_duration_seconds",
			Help:    "End-to-end ingest latency.",
			Buckets: prometheus.DefBuckets,
		}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_alert_transitions_total",
			Help: "Alert lifecycle transitions by kind.",
		}, []string{"kind"}),
		EntitiesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_entities",
			Help: "Registered entities by current status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestTotal,
		m.IngestSeconds,
		m.AlertTransitions,
		m.EntitiesByStatus,
	)
	return m
}

// ObserveBus exports the stream gauges straight off the bus counters.
func (m *Metrics) ObserveBus(b *bus.Bus) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "monitor_stream_dropped_events_total",
			Help: "Events dropped from slow subscriber buffers.",
		}, func() float64 { return float64(b.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "monitor_stream_subscribers",
			Help: "Connected stream subscribers.",
		}, func() float64 { return float64(b.Stats().Subscribers) }),
	)
}

// SetEntityCounts replaces the per-status entity gauge. Statuses absent
// from counts reset to zero so stale values never linger.
func (m *Metrics) SetEntityCounts(counts map[models.EntityStatus]int64) {
	for _, status := range []models.EntityStatus{
		models.StatusOnline,
		models.StatusOffline,
		models.StatusWarning,
		models.StatusDegraded,
		models.StatusUnreachable,
	} {
		m.EntitiesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
