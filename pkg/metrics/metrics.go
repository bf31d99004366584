// Package metrics provides Prometheus metrics for the Strata loading
// pipeline: cells materialized, batches scheduled, bytes read from
// storage and end-to-end load latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CellsLoaded counts cells materialized into chunks, labeled by
	// storage backend (memory or mmap).
	CellsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_cells_loaded_total",
			Help: "Total number of cache cells materialized",
		},
		[]string{"backend"},
	)

	// BatchesSubmitted counts IO-merged batch tasks submitted to the
	// worker pools, labeled by load priority.
	BatchesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_batches_submitted_total",
			Help: "Total number of batch load tasks submitted",
		},
		[]string{"priority"},
	)

	// RowGroupsRead counts row groups read from storage.
	RowGroupsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_row_groups_read_total",
			Help: "Total number of row groups read from storage",
		},
	)

	// BytesLoaded counts the in-memory byte size of loaded cells.
	BytesLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_bytes_loaded_total",
			Help: "Total uncompressed bytes of loaded cells",
		},
	)

	// LoadDuration tracks the end-to-end duration of GetCells calls.
	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_load_duration_seconds",
			Help:    "End-to-end cell load duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"priority"},
	)

	// InflightLoads tracks cell loads currently in progress.
	InflightLoads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_inflight_loads",
			Help: "Number of cell load operations in progress",
		},
	)

	// LoadErrors counts failed load operations by error type.
	LoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_load_errors_total",
			Help: "Total number of failed load operations",
		},
		[]string{"type"},
	)
)
