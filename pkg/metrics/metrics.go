package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks per-record outcomes across sync runs
	// Labels allow filtering by outcome (synced/failed), kind (header/line), and customer
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_records_processed_total",
		Help: "Total number of records processed by the sync engine",
	}, []string{"outcome", "kind", "customer"})

	// BatchDuration measures how long one customer batch takes end to end
	// Use this to identify degradation in Postgres or the board API
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boardsync_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of headers actually grouped into each batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boardsync_batch_size",
		Help:    "Number of headers pushed per batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	// APIRetries counts retry attempts against the board API, by error class
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_api_retries_total",
		Help: "Total number of board API retry attempts",
	}, []string{"class"})

	// FallbackRecords counts records degraded from a batched call to
	// single-item calls. A growing rate means the API is under pressure
	FallbackRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_fallback_records_total",
		Help: "Records pushed through single-item fallback after a batch failure",
	}, []string{"outcome"})

	// StagingRowsLoaded counts rows bulk-loaded into the staging area
	StagingRowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_staging_rows_loaded_total",
		Help: "Rows loaded into staging, by chunk outcome",
	}, []string{"outcome"})

	// RowsPromoted counts staging rows promoted into production tables
	RowsPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardsync_rows_promoted_total",
		Help: "Staging rows promoted to production after successful sync",
	})

	// HealthStatus provides a binary 0/1 signal for the service's health
	// 1 = Healthy, 0 = Unhealthy (board API or broker link is down)
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_healthy",
		Help: "Current health status of the sync service (1 healthy, 0 unhealthy)",
	})

	// PendingBacklog tracks headers still waiting to be pushed
	// This is the primary indicator of sync lag
	PendingBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_pending_backlog",
		Help: "Current number of PENDING headers awaiting sync",
	})
)
