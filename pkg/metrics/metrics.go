// Package metrics provides Prometheus observability for the Doris target
// connector: rows loaded and deleted, retry counts, stream load latency, and
// reconciliation step outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsLoaded counts rows accepted by Stream Load, labeled by table
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doris_target",
			Name:      "rows_loaded_total",
			Help:      "Total rows loaded via Stream Load",
		},
		[]string{"table"},
	)

	// RowsDeleted counts rows removed by SQL DELETE, labeled by table
	RowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doris_target",
			Name:      "rows_deleted_total",
			Help:      "Total rows deleted via SQL DELETE",
		},
		[]string{"table"},
	)

	// Retries counts retry attempts, labeled by operation
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doris_target",
			Name:      "retries_total",
			Help:      "Total retry attempts for transient failures",
		},
		[]string{"operation"},
	)

	// StreamLoadLatency tracks Stream Load request duration
	StreamLoadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "doris_target",
			Name:      "stream_load_duration_seconds",
			Help:      "Stream Load request latency",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"table"},
	)

	// ReconcileSteps counts reconciliation steps by kind and outcome
	// (applied, degraded, failed)
	ReconcileSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doris_target",
			Name:      "reconcile_steps_total",
			Help:      "Schema reconciliation steps by kind and outcome",
		},
		[]string{"step", "outcome"},
	)
)

// ObserveStreamLoad records one Stream Load request
func ObserveStreamLoad(table string, rows int64, start time.Time) {
	RowsLoaded.WithLabelValues(table).Add(float64(rows))
	StreamLoadLatency.WithLabelValues(table).Observe(time.Since(start).Seconds())
}
