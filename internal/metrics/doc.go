// Package metrics provides Prometheus instrumentation for catalogpipe.
//
// This package defines and exposes the gauges, counters, and histograms that
// let an operator observe the pipeline's health. All metrics are prefixed
// with "catalogpipe_" to avoid collisions with other applications sharing a
// scrape target.
//
// # Metric Categories
//
// ## Catalog Store Metrics
//
//   - CatalogQueryTotal: Counter of store queries by operation and status
//   - CatalogQueryDuration: Histogram of query duration by operation
//   - CatalogDBSizeBytes: Gauge of database file sizes (main, WAL, SHM)
//   - CatalogDBConnectionsOpen: Gauge of open database connections
//   - CatalogLibrariesActive / CatalogCollectionsActive / CatalogMediaItemsTotal:
//     Gauges of catalog-wide rollup counts, summed from active libraries'
//     cached statistics
//   - CatalogCacheFoldersActive: Gauge of cache folders available to the allocator
//
// ## Job Ledger Metrics
//
//   - JobsCreatedTotal / JobsCompletedTotal: Counters by job kind and status
//   - JobsActive: Gauge of in-flight jobs by kind
//   - JobCoalescedTotal: Counter of jobs coalesced into an existing entry
//
// ## Scan Metrics
//
//   - LibraryScansTotal / CollectionScansTotal: Counters by outcome
//   - CollectionScanDuration: Histogram of scan duration
//   - MediaItemsReconciled: Counter by reconciliation action (added/removed/unchanged)
//   - WalkerFilesScanned: Counter of files visited during a directory walk
//   - WalkerWatcherEventsTotal / WalkerWatcherErrors: fsnotify watch activity
//   - WalkerWatchedDirectories: Gauge of directories currently under watch
//
// ## Derivative Metrics
//
//   - DerivativeGenerationsTotal: Counter by kind (thumbnail/cache) and status
//   - DerivativeGenerationDuration: Histogram of generation time
//   - DerivativeDecodePoolThrottled: Counter of decode requests delayed by the memory monitor
//   - DerivativeOrphansCleaned: Counter of orphaned derivative files removed
//
// ## Cache Folder Metrics
//
//   - CacheFolderFillRatio / CacheFolderBytesUsed: Gauges by folder
//   - CacheFolderUnreachableTotal: Counter of failed availability probes
//   - CacheAllocationsTotal: Counter of allocation decisions by outcome
//
// ## Message Bus Metrics
//
//   - BusQueueDepth / BusDLQDepth: Gauges by topic
//   - BusPublishedTotal / BusConsumedTotal: Counters by topic and outcome
//
// ## Index Metrics
//
//   - IndexRebuildsTotal / IndexRebuildDuration: Full-rebuild activity
//   - IndexEntryCount: Gauge of entries per sort key
//   - IndexDivergenceDetectedTotal: Counter of detected index/store drift
//
// ## Scheduler Metrics
//
//   - SchedulerFiringsTotal: Counter by outcome
//   - SchedulerLeaseHeld: Gauge, 1 when this process holds the leader lease
//
// ## Memory Metrics
//
//   - MemoryUsageRatio: Gauge of heap usage as a ratio of GOMEMLIMIT (0.0-1.0)
//   - MemoryPaused: Gauge indicating derivative generation is paused for memory pressure
//   - MemoryGCPauses: Counter of times processing was paused for memory
//
// ## Worker Metrics
//
//   - WorkerPoolSize: Gauge of consumer goroutines by stage
//   - WorkerMessagesTotal: Counter of messages processed by stage and outcome
//   - WorkerProcessDuration: Histogram of per-message processing time by stage
//
// ## Filesystem Metrics
//
//   - FilesystemOperationDuration / FilesystemOperationErrors: per volume and
//     operation, recorded by the observer that [NewFilesystemObserver] returns
//   - FilesystemRetryAttempts / FilesystemRetrySuccess / FilesystemRetryFailures:
//     retry-aware operation outcomes, by retry op and volume
//   - FilesystemStaleErrors: ESTALE occurrences encountered mid-retry
//   - FilesystemRetryDuration: total duration of a retry-aware operation
//     across all attempts
//
// ## Application Info
//
//   - AppInfo: Gauge with version, commit, and Go version labels
//
// # Usage
//
// Metrics register themselves with the default Prometheus registry via
// promauto at import time. Mount the handler on the metrics listener:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Recording Metrics
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	import "catalogpipe/internal/metrics"
//
//	metrics.JobsCreatedTotal.WithLabelValues("library.scan").Inc()
//	metrics.CollectionScanDuration.WithLabelValues("success").Observe(1.2)
//	metrics.SchedulerLeaseHeld.Set(1)
//
// # Collector
//
// The package provides a [Collector] type that periodically gathers catalog
// rollup counts from a [StatsProvider], the open connection count from the
// catalog database handle, and database file sizes (via internal/filesystem's
// retry-wrapped stat calls), updating the corresponding gauges:
//
//	collector := metrics.NewCollector(statsProvider, store.DB(), dbPath, 30*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// cmd/catalogpipe also calls [filesystem.SetObserver] with [NewFilesystemObserver]
// at startup so retry attempts and ESTALE recoveries surface as the Filesystem
// Metrics above.
//
// # Prometheus Queries
//
// Job completion rate by kind:
//
//	sum(rate(catalogpipe_jobs_completed_total[5m])) by (kind)
//
// Scan duration P95:
//
//	histogram_quantile(0.95, sum(rate(catalogpipe_collection_scan_duration_seconds_bucket[5m])) by (le))
//
// Cache folder pressure:
//
//	max(catalogpipe_cache_folder_fill_ratio) by (folder)
//
// Bus backlog by topic:
//
//	catalogpipe_bus_queue_depth
//
// Memory pressure events:
//
//	rate(catalogpipe_memory_gc_pauses_total[1h])
package metrics
