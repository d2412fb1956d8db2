package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Catalog store metrics
var (
	CatalogQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_catalog_queries_total",
			Help: "Total number of catalog store queries",
		},
		[]string{"operation", "status"},
	)

	CatalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_catalog_query_duration_seconds",
			Help:    "Catalog store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	CatalogDBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_db_size_bytes",
			Help: "Size of the SQLite catalog database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)

	CatalogDBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_db_connections_open",
			Help: "Number of open catalog database connections",
		},
	)

	CatalogLibrariesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_libraries_active",
			Help: "Number of active libraries in the catalog",
		},
	)

	CatalogCollectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_collections_active",
			Help: "Number of non-deleted collections across all active libraries",
		},
	)

	CatalogMediaItemsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_media_items_total",
			Help: "Total number of media items across all active libraries",
		},
	)

	CatalogCacheFoldersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_catalog_cache_folders_active",
			Help: "Number of active cache folders available to the allocator",
		},
	)
)

// Filesystem retry/resilience metrics (internal/filesystem, and the
// Observer that cmd/catalogpipe installs with filesystem.SetObserver)
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_filesystem_operation_duration_seconds",
			Help:    "Duration of a filesystem operation, by volume and operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_filesystem_operation_errors_total",
			Help: "Total number of filesystem operation errors, by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_filesystem_retry_attempts_total",
			Help: "Total number of retry-aware filesystem operation attempts, by retry op and volume",
		},
		[]string{"retry_op", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_filesystem_retry_success_total",
			Help: "Total number of retry-aware filesystem operations that eventually succeeded",
		},
		[]string{"retry_op", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_filesystem_retry_failures_total",
			Help: "Total number of retry-aware filesystem operations that exhausted all retries",
		},
		[]string{"retry_op", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_filesystem_stale_errors_total",
			Help: "Total number of ESTALE errors encountered during retry-aware filesystem operations",
		},
		[]string{"retry_op", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_filesystem_retry_duration_seconds",
			Help:    "Total duration of a retry-aware filesystem operation including all attempts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"retry_op", "volume"},
	)
)

// Job Ledger metrics
var (
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_jobs_created_total",
			Help: "Total number of jobs created, by kind",
		},
		[]string{"kind"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status, by kind and status",
		},
		[]string{"kind", "status"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_jobs_active",
			Help: "Number of jobs currently Pending or Running, by kind",
		},
		[]string{"kind"},
	)

	JobCoalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_job_coalesced_total",
			Help: "Total number of scan/schedule requests coalesced into an existing non-terminal job",
		},
		[]string{"kind"},
	)
)

// Scan metrics (Scan Coordinator, Collection Scan Worker)
var (
	LibraryScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_library_scans_total",
			Help: "Total number of library scans started, by status",
		},
		[]string{"status"},
	)

	CollectionScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_collection_scans_total",
			Help: "Total number of collection scans completed, by status",
		},
		[]string{"status"},
	)

	CollectionScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_collection_scan_duration_seconds",
			Help:    "Collection scan duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	MediaItemsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_media_items_reconciled_total",
			Help: "Total number of media items added/removed during reconciliation",
		},
		[]string{"change"}, // "added", "removed", "unchanged"
	)

	WalkerFilesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_walker_files_scanned_total",
			Help: "Total number of files scanned during filesystem walks",
		},
		[]string{"operation"},
	)

	WalkerWatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_walker_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	WalkerWatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogpipe_walker_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)

	WalkerWatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_walker_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)
)

// Derivative engine / codec metrics
var (
	DerivativeGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_derivative_generations_total",
			Help: "Total number of derivative (thumbnail/cache) generations",
		},
		[]string{"kind", "status"}, // kind: "thumbnail"|"cache", status: "ok"|"retryable"|"failed"
	)

	DerivativeGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_derivative_generation_duration_seconds",
			Help:    "Derivative generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	DerivativeDecodePoolThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogpipe_derivative_decode_pool_throttled_total",
			Help: "Total number of times decode work was throttled due to memory pressure",
		},
	)

	DerivativeOrphansCleaned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_derivative_orphans_cleaned_total",
			Help: "Total number of orphaned derivative files cleaned up",
		},
		[]string{"kind"},
	)
)

// Cache-folder allocator metrics
var (
	CacheFolderFillRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_cache_folder_fill_ratio",
			Help: "Fraction of a cache folder's byte quota currently used",
		},
		[]string{"folder", "volume"},
	)

	CacheFolderBytesUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_cache_folder_bytes_used",
			Help: "Bytes currently used in a cache folder",
		},
		[]string{"folder", "volume"},
	)

	CacheFolderUnreachableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_cache_folder_unreachable_total",
			Help: "Total number of times a cache folder failed its reachability probe",
		},
		[]string{"folder"},
	)

	CacheAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_cache_allocations_total",
			Help: "Total number of cache folder allocations, by outcome",
		},
		[]string{"status"}, // "ok", "no_space"
	)
)

// Message bus metrics
var (
	BusQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_bus_queue_depth",
			Help: "Number of undelivered messages currently queued per topic",
		},
		[]string{"topic"},
	)

	BusDLQDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_bus_dlq_depth",
			Help: "Number of messages currently dead-lettered per topic",
		},
		[]string{"topic"},
	)

	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_bus_published_total",
			Help: "Total number of messages published, by topic",
		},
		[]string{"topic"},
	)

	BusConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_bus_consumed_total",
			Help: "Total number of messages consumed, by topic and outcome",
		},
		[]string{"topic", "outcome"}, // "acked", "retried", "dead_lettered"
	)
)

// Ordered Collection Index metrics
var (
	IndexRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogpipe_index_rebuilds_total",
			Help: "Total number of full index rebuilds from the catalog",
		},
	)

	IndexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_index_rebuild_duration_seconds",
			Help:    "Index rebuild duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	IndexEntryCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_index_entry_count",
			Help: "Number of entries currently tracked per sort key",
		},
		[]string{"sort_key"},
	)

	IndexDivergenceDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogpipe_index_divergence_detected_total",
			Help: "Total number of times index divergence from the catalog exceeded the rebuild threshold",
		},
	)
)

// Scheduler metrics
var (
	SchedulerFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_scheduler_firings_total",
			Help: "Total number of scheduled job firings, by outcome",
		},
		[]string{"outcome"}, // "fired", "coalesced", "lease_lost", "misfire_skipped"
	)

	SchedulerLeaseHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_scheduler_lease_held",
			Help: "Whether this process currently holds the scheduler firing lease (1 = held)",
		},
	)
)

// Memory monitor metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_memory_usage_ratio",
			Help: "Current memory usage as a ratio of the configured limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogpipe_memory_paused",
			Help: "Whether derivative decode work is currently paused for memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogpipe_memory_gc_pauses_total",
			Help: "Total number of times processing was paused and a GC forced due to memory pressure",
		},
	)
)

// Worker Consumer substrate metrics
var (
	WorkerPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_worker_pool_size",
			Help: "Configured concurrency of a stage's worker pool, by topic",
		},
		[]string{"topic"},
	)

	WorkerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogpipe_worker_messages_total",
			Help: "Total number of stage messages handled, by topic and outcome",
		},
		[]string{"topic", "outcome"}, // outcome: "completed", "retried", "dead_lettered"
	)

	WorkerProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogpipe_worker_process_duration_seconds",
			Help:    "Stage message handler duration in seconds, by topic",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"topic"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogpipe_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
