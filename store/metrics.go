package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSync = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mboxstore_sync_total",
			Help: "Number of index syncs.",
		},
		[]string{
			"kind",   // quick, incremental, full
			"result", // unchanged, changed, rebuild, error
		},
	)
	metricRebuild = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mboxstore_rebuild_total",
			Help: "Number of index rebuilds, by reason.",
		},
		[]string{
			"reason",
		},
	)
	metricAppend = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxstore_append_total",
			Help: "Number of messages appended.",
		},
	)
	metricExpunged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxstore_expunged_total",
			Help: "Number of messages removed by rewrites.",
		},
	)
	metricOperation = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mboxstore_operation_duration_seconds",
			Help:    "Duration of index operations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{
			"op", // rebuild, sync, syncfull, append, rewrite
		},
	)
	metricLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mboxstore_lock_wait_seconds",
			Help:    "Time spent acquiring locks on mbox files in seconds.",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{
			"lock", // read, write
		},
	)
)

func observeOp(op string, t0 time.Time) {
	metricOperation.WithLabelValues(op).Observe(float64(time.Since(t0)) / float64(time.Second))
}
