// Package metrics registers the process-wide Prometheus collectors that
// expose cache and batch-processing stats for observability, in the
// promauto-free pattern prysmaticlabs/prysm's beacon-chain/cache package
// uses.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics server's registry and the handful of
// scheduler-level collectors that do not belong to any one component
// (the Cache registers its own hit/miss counters against the same
// registry; see internal/cache).
type Registry struct {
	reg *prometheus.Registry

	BatchDuration prometheus.Histogram
	CursorSlot    prometheus.Gauge
	BatchErrors   prometheus.Counter
	SlotsSkipped  prometheus.Counter
}

// New constructs a Registry with its collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duties_indexer_batch_duration_seconds",
			Help:    "Wall-clock duration of one Scheduler batch.",
			Buckets: prometheus.DefBuckets,
		}),
		CursorSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duties_indexer_cursor_slot",
			Help: "The last fully processed slot.",
		}),
		BatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duties_indexer_batch_errors_total",
			Help: "Number of batches that aborted with an InternalError.",
		}),
		SlotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duties_indexer_slots_skipped_total",
			Help: "Number of slots skipped due to missing committees or transient fetch errors.",
		}),
	}
	reg.MustRegister(m.BatchDuration, m.CursorSlot, m.BatchErrors, m.SlotsSkipped)
	return m
}

// Registry returns the underlying prometheus.Registry so other
// components (the Cache) can register their own collectors against the
// same registry.
func (m *Registry) Registry() *prometheus.Registry { return m.reg }

// Handler returns the HTTP handler to serve on /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
