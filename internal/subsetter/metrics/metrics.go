// Package metrics provides Prometheus metrics for a subsetting run,
// grounded on the teacher's internal/metrics/metrics.go shape (a struct of
// pre-registered CounterVec/GaugeVec/HistogramVec collectors behind a
// private prometheus.Registry, exposed via a promhttp Handler), retargeted
// from HTTP request metrics onto rows-copied / selector-latency metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector for a subsetting run.
type Metrics struct {
	RowsCopiedTotal      *prometheus.CounterVec
	RowsSkippedTotal     *prometheus.CounterVec
	TableCompleteness    *prometheus.GaugeVec
	SelectorFetchLatency *prometheus.HistogramVec
	InsertBatchLatency   *prometheus.HistogramVec
	TablesSaturated      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RowsCopiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subsetter_rows_copied_total",
			Help: "Total number of rows committed into the target, by table.",
		},
		[]string{"table", "prioritized"},
	)

	m.RowsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subsetter_rows_skipped_total",
			Help: "Total number of candidate rows dropped, by table and reason.",
		},
		[]string{"table", "reason"},
	)

	m.TableCompleteness = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subsetter_table_completeness_ratio",
			Help: "copied_count / target_count per selected table.",
		},
		[]string{"table"},
	)

	m.SelectorFetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subsetter_selector_fetch_duration_seconds",
			Help:    "Latency of selector fetch operations against the source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "strategy"},
	)

	m.InsertBatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subsetter_insert_batch_duration_seconds",
			Help:    "Latency of bulk INSERT flushes against the target.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	m.TablesSaturated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subsetter_tables_saturated",
			Help: "Number of selected tables the coordinator has marked saturated.",
		},
	)

	m.registry.MustRegister(
		m.RowsCopiedTotal,
		m.RowsSkippedTotal,
		m.TableCompleteness,
		m.SelectorFetchLatency,
		m.InsertBatchLatency,
		m.TablesSaturated,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an http.Handler exposing the metrics in the Prometheus
// text exposition format, for an optional --metrics-addr server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSelectorFetch records how long a selector fetch against table took.
func (m *Metrics) ObserveSelectorFetch(table, strategy string, d time.Duration) {
	m.SelectorFetchLatency.WithLabelValues(table, strategy).Observe(d.Seconds())
}

// ObserveInsertBatch records how long a bulk insert flush against table took.
func (m *Metrics) ObserveInsertBatch(table string, d time.Duration) {
	m.InsertBatchLatency.WithLabelValues(table).Observe(d.Seconds())
}
