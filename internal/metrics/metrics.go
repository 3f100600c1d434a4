// Package metrics exposes Prometheus instrumentation for the migration
// engine. Register wires the collectors into a registry; the admin server
// serves them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ActionsTotal       *prometheus.CounterVec
	ReindexDocsTotal   *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	ActiveVersionGauge *prometheus.GaugeVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexmigrate",
			Name:      "actions_total",
			Help:      "Lifecycle actions by kind and terminal status.",
		}, []string{"kind", "status"}),
		ReindexDocsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexmigrate",
			Name:      "reindex_docs_total",
			Help:      "Documents processed by bulk reindex, by outcome.",
		}, []string{"index", "outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexmigrate",
			Name:      "reindex_batch_duration_seconds",
			Help:      "Wall time of one reindex batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ActiveVersionGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "indexmigrate",
			Name:      "active_version",
			Help:      "Active version id per logical index, 0 when none.",
		}, []string{"index"}),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ActionsTotal, m.ReindexDocsTotal, m.BatchDuration, m.ActiveVersionGauge,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveAction records one finished action.
func (m *Metrics) ObserveAction(kind, status string) {
	m.ActionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveBatch records one reindex batch outcome.
func (m *Metrics) ObserveBatch(index string, succeeded, failed int, took time.Duration) {
	m.ReindexDocsTotal.WithLabelValues(index, "success").Add(float64(succeeded))
	m.ReindexDocsTotal.WithLabelValues(index, "failed").Add(float64(failed))
	m.BatchDuration.Observe(took.Seconds())
}

// SetActiveVersion records the active version pointer of an index.
func (m *Metrics) SetActiveVersion(index string, versionID int64) {
	m.ActiveVersionGauge.WithLabelValues(index).Set(float64(versionID))
}
