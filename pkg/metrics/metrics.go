// Package metrics provides Prometheus metrics for vload. It exposes
// counters for rows loaded and rejected, commit outcomes and latency, and
// per-status migration object counts. All collectors register themselves
// on the default registry at package init.
//
// Example:
//
//	metrics.RowsLoaded.WithLabelValues("staging.orders").Add(50000)
//	metrics.CommitsTotal.WithLabelValues("staging.orders", "success").Inc()
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsLoaded counts rows the database accepted, per target table.
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vload_rows_loaded_total",
			Help: "Total number of rows accepted by the database",
		},
		[]string{"table"},
	)

	// RowsRejected counts rows the database rejected, per target table.
	RowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vload_rows_rejected_total",
			Help: "Total number of rows rejected during bulk copy",
		},
		[]string{"table"},
	)

	// CommitsTotal counts commit attempts by outcome.
	// Labels: table, status (success/failure)
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vload_commits_total",
			Help: "Total number of batch commits",
		},
		[]string{"table", "status"},
	)

	// CommitDuration tracks the distribution of commit latencies, from
	// flush start to transaction commit.
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vload_commit_duration_seconds",
			Help: "Batch commit latency in seconds",
			Buckets: []float64{
				0.01, // trivial batches
				0.1,
				0.5,
				1,
				5,
				30,
				120, // large multi-million row loads
			},
		},
		[]string{"table"},
	)

	// MigrationObjects counts migrated objects by final status.
	// Labels: status (applied/skipped/failed)
	MigrationObjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vload_migration_objects_total",
			Help: "Total number of migration objects by final status",
		},
		[]string{"status"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Stop returns the elapsed time since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the timer's identifier.
func (t *Timer) Name() string { return t.name }
