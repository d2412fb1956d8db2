package metrics

import (
	"testing"
)

func TestCatalogMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"CatalogQueryTotal", CatalogQueryTotal},
		{"CatalogQueryDuration", CatalogQueryDuration},
		{"CatalogDBSizeBytes", CatalogDBSizeBytes},
		{"CatalogDBConnectionsOpen", CatalogDBConnectionsOpen},
		{"CatalogLibrariesActive", CatalogLibrariesActive},
		{"CatalogCollectionsActive", CatalogCollectionsActive},
		{"CatalogMediaItemsTotal", CatalogMediaItemsTotal},
		{"CatalogCacheFoldersActive", CatalogCacheFoldersActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestCatalogMetricOperations(t *testing.T) {
	t.Run("CatalogQueryTotal by operation and status", func(_ *testing.T) {
		CatalogQueryTotal.WithLabelValues("create_library", "success").Add(0)
		CatalogQueryTotal.WithLabelValues("create_library", "error").Add(0)
	})

	t.Run("CatalogQueryDuration observe", func(_ *testing.T) {
		CatalogQueryDuration.WithLabelValues("get_collection").Observe(0.001)
	})

	t.Run("CatalogDBSizeBytes set by file", func(_ *testing.T) {
		CatalogDBSizeBytes.WithLabelValues("main").Set(1024)
		CatalogDBSizeBytes.WithLabelValues("wal").Set(512)
		CatalogDBSizeBytes.WithLabelValues("shm").Set(256)
	})

	t.Run("CatalogDBConnectionsOpen set", func(_ *testing.T) {
		CatalogDBConnectionsOpen.Set(5)
	})

	t.Run("catalog-wide gauges set", func(_ *testing.T) {
		CatalogLibrariesActive.Set(3)
		CatalogCollectionsActive.Set(120)
		CatalogMediaItemsTotal.Set(48000)
		CatalogCacheFoldersActive.Set(2)
	})
}

func TestJobLedgerMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"JobsCreatedTotal", JobsCreatedTotal},
		{"JobsCompletedTotal", JobsCompletedTotal},
		{"JobsActive", JobsActive},
		{"JobCoalescedTotal", JobCoalescedTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestJobLedgerMetricOperations(t *testing.T) {
	t.Run("JobsCreatedTotal by kind", func(_ *testing.T) {
		JobsCreatedTotal.WithLabelValues("libraryScan").Add(0)
		JobsCreatedTotal.WithLabelValues("bulkOperation").Add(0)
	})

	t.Run("JobsCompletedTotal by kind and status", func(_ *testing.T) {
		JobsCompletedTotal.WithLabelValues("libraryScan", "succeeded").Add(0)
		JobsCompletedTotal.WithLabelValues("libraryScan", "failed").Add(0)
	})

	t.Run("JobsActive by kind", func(_ *testing.T) {
		JobsActive.WithLabelValues("libraryScan").Set(2)
	})

	t.Run("JobCoalescedTotal by kind", func(_ *testing.T) {
		JobCoalescedTotal.WithLabelValues("libraryScan").Add(0)
	})
}

func TestScanMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"LibraryScansTotal", LibraryScansTotal},
		{"CollectionScansTotal", CollectionScansTotal},
		{"CollectionScanDuration", CollectionScanDuration},
		{"MediaItemsReconciled", MediaItemsReconciled},
		{"WalkerFilesScanned", WalkerFilesScanned},
		{"WalkerWatcherEventsTotal", WalkerWatcherEventsTotal},
		{"WalkerWatcherErrors", WalkerWatcherErrors},
		{"WalkerWatchedDirectories", WalkerWatchedDirectories},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestScanMetricOperations(t *testing.T) {
	t.Run("LibraryScansTotal by status", func(_ *testing.T) {
		LibraryScansTotal.WithLabelValues("completed").Add(0)
		LibraryScansTotal.WithLabelValues("failed").Add(0)
	})

	t.Run("CollectionScansTotal by status", func(_ *testing.T) {
		CollectionScansTotal.WithLabelValues("completed").Add(0)
	})

	t.Run("CollectionScanDuration by kind", func(_ *testing.T) {
		CollectionScanDuration.WithLabelValues("directory").Observe(1.2)
		CollectionScanDuration.WithLabelValues("archive").Observe(3.4)
	})

	t.Run("MediaItemsReconciled by change", func(_ *testing.T) {
		MediaItemsReconciled.WithLabelValues("added").Add(0)
		MediaItemsReconciled.WithLabelValues("removed").Add(0)
		MediaItemsReconciled.WithLabelValues("unchanged").Add(0)
	})

	t.Run("WalkerFilesScanned by operation", func(_ *testing.T) {
		WalkerFilesScanned.WithLabelValues("initial").Add(0)
	})

	t.Run("WalkerWatcherEventsTotal by event type", func(_ *testing.T) {
		WalkerWatcherEventsTotal.WithLabelValues("write").Add(0)
		WalkerWatcherEventsTotal.WithLabelValues("create").Add(0)
	})

	t.Run("WalkerWatcherErrors", func(_ *testing.T) {
		WalkerWatcherErrors.Add(0)
	})

	t.Run("WalkerWatchedDirectories", func(_ *testing.T) {
		WalkerWatchedDirectories.Set(10)
	})
}

func TestDerivativeMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"DerivativeGenerationsTotal", DerivativeGenerationsTotal},
		{"DerivativeGenerationDuration", DerivativeGenerationDuration},
		{"DerivativeDecodePoolThrottled", DerivativeDecodePoolThrottled},
		{"DerivativeOrphansCleaned", DerivativeOrphansCleaned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestDerivativeMetricOperations(t *testing.T) {
	t.Run("DerivativeGenerationsTotal by kind and status", func(_ *testing.T) {
		DerivativeGenerationsTotal.WithLabelValues("thumbnail", "ok").Add(0)
		DerivativeGenerationsTotal.WithLabelValues("cache", "failed").Add(0)
	})

	t.Run("DerivativeGenerationDuration by kind", func(_ *testing.T) {
		DerivativeGenerationDuration.WithLabelValues("thumbnail").Observe(0.2)
	})

	t.Run("DerivativeDecodePoolThrottled", func(_ *testing.T) {
		DerivativeDecodePoolThrottled.Add(0)
	})

	t.Run("DerivativeOrphansCleaned by kind", func(_ *testing.T) {
		DerivativeOrphansCleaned.WithLabelValues("thumbnail").Add(0)
	})
}

func TestCacheFolderMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"CacheFolderFillRatio", CacheFolderFillRatio},
		{"CacheFolderBytesUsed", CacheFolderBytesUsed},
		{"CacheFolderUnreachableTotal", CacheFolderUnreachableTotal},
		{"CacheAllocationsTotal", CacheAllocationsTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestCacheFolderMetricOperations(t *testing.T) {
	t.Run("CacheFolderFillRatio by folder and volume", func(_ *testing.T) {
		CacheFolderFillRatio.WithLabelValues("primary", "cache").Set(0.42)
	})

	t.Run("CacheFolderBytesUsed by folder and volume", func(_ *testing.T) {
		CacheFolderBytesUsed.WithLabelValues("primary", "cache").Set(1024 * 1024)
	})

	t.Run("CacheFolderUnreachableTotal by folder", func(_ *testing.T) {
		CacheFolderUnreachableTotal.WithLabelValues("primary").Add(0)
	})

	t.Run("CacheAllocationsTotal by status", func(_ *testing.T) {
		CacheAllocationsTotal.WithLabelValues("ok").Add(0)
		CacheAllocationsTotal.WithLabelValues("no_space").Add(0)
	})
}

func TestBusMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"BusQueueDepth", BusQueueDepth},
		{"BusDLQDepth", BusDLQDepth},
		{"BusPublishedTotal", BusPublishedTotal},
		{"BusConsumedTotal", BusConsumedTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestBusMetricOperations(t *testing.T) {
	t.Run("BusQueueDepth by topic", func(_ *testing.T) {
		BusQueueDepth.WithLabelValues("library.scan").Set(3)
	})

	t.Run("BusDLQDepth by topic", func(_ *testing.T) {
		BusDLQDepth.WithLabelValues("library.scan").Set(0)
	})

	t.Run("BusPublishedTotal by topic", func(_ *testing.T) {
		BusPublishedTotal.WithLabelValues("library.scan").Add(0)
	})

	t.Run("BusConsumedTotal by topic and outcome", func(_ *testing.T) {
		BusConsumedTotal.WithLabelValues("library.scan", "acked").Add(0)
		BusConsumedTotal.WithLabelValues("library.scan", "dead_lettered").Add(0)
	})
}

func TestIndexMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"IndexRebuildsTotal", IndexRebuildsTotal},
		{"IndexRebuildDuration", IndexRebuildDuration},
		{"IndexEntryCount", IndexEntryCount},
		{"IndexDivergenceDetectedTotal", IndexDivergenceDetectedTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestIndexMetricOperations(t *testing.T) {
	t.Run("IndexRebuildsTotal", func(_ *testing.T) {
		IndexRebuildsTotal.Add(0)
	})

	t.Run("IndexRebuildDuration", func(_ *testing.T) {
		IndexRebuildDuration.Observe(0.5)
	})

	t.Run("IndexEntryCount by sort key", func(_ *testing.T) {
		IndexEntryCount.WithLabelValues("createdAt").Set(100)
	})

	t.Run("IndexDivergenceDetectedTotal", func(_ *testing.T) {
		IndexDivergenceDetectedTotal.Add(0)
	})
}

func TestSchedulerMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"SchedulerFiringsTotal", SchedulerFiringsTotal},
		{"SchedulerLeaseHeld", SchedulerLeaseHeld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestSchedulerMetricOperations(t *testing.T) {
	t.Run("SchedulerFiringsTotal by outcome", func(_ *testing.T) {
		SchedulerFiringsTotal.WithLabelValues("fired").Add(0)
		SchedulerFiringsTotal.WithLabelValues("coalesced").Add(0)
	})

	t.Run("SchedulerLeaseHeld toggle", func(_ *testing.T) {
		SchedulerLeaseHeld.Set(1)
		SchedulerLeaseHeld.Set(0)
	})
}

func TestMemoryMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"MemoryUsageRatio", MemoryUsageRatio},
		{"MemoryPaused", MemoryPaused},
		{"MemoryGCPauses", MemoryGCPauses},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestMemoryMetricOperations(t *testing.T) {
	t.Run("MemoryUsageRatio", func(_ *testing.T) {
		MemoryUsageRatio.Set(0.75)
		MemoryUsageRatio.Set(0.90)
	})

	t.Run("MemoryPaused toggle", func(_ *testing.T) {
		MemoryPaused.Set(0)
		MemoryPaused.Set(1)
	})

	t.Run("MemoryGCPauses", func(_ *testing.T) {
		MemoryGCPauses.Inc()
		MemoryGCPauses.Add(5)
	})
}

func TestWorkerMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"WorkerPoolSize", WorkerPoolSize},
		{"WorkerMessagesTotal", WorkerMessagesTotal},
		{"WorkerProcessDuration", WorkerProcessDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestWorkerMetricOperations(t *testing.T) {
	t.Run("WorkerPoolSize by topic", func(_ *testing.T) {
		WorkerPoolSize.WithLabelValues("library.scan").Set(4)
	})

	t.Run("WorkerMessagesTotal by topic and outcome", func(_ *testing.T) {
		WorkerMessagesTotal.WithLabelValues("library.scan", "completed").Add(0)
		WorkerMessagesTotal.WithLabelValues("library.scan", "dead_lettered").Add(0)
	})

	t.Run("WorkerProcessDuration by topic", func(_ *testing.T) {
		WorkerProcessDuration.WithLabelValues("library.scan").Observe(1.5)
	})
}

func TestFilesystemMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"FilesystemOperationDuration", FilesystemOperationDuration},
		{"FilesystemOperationErrors", FilesystemOperationErrors},
		{"FilesystemRetryAttempts", FilesystemRetryAttempts},
		{"FilesystemRetrySuccess", FilesystemRetrySuccess},
		{"FilesystemRetryFailures", FilesystemRetryFailures},
		{"FilesystemStaleErrors", FilesystemStaleErrors},
		{"FilesystemRetryDuration", FilesystemRetryDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestFilesystemMetricOperations(t *testing.T) {
	t.Run("FilesystemOperationDuration by volume and operation", func(_ *testing.T) {
		FilesystemOperationDuration.WithLabelValues("media", "read").Observe(0.001)
		FilesystemOperationDuration.WithLabelValues("cache", "write").Observe(0.01)
		FilesystemOperationDuration.WithLabelValues("database", "stat").Observe(0.0005)
	})

	t.Run("FilesystemOperationErrors by volume and operation", func(_ *testing.T) {
		FilesystemOperationErrors.WithLabelValues("media", "read").Add(0)
	})

	t.Run("FilesystemRetryAttempts by retry op and volume", func(_ *testing.T) {
		FilesystemRetryAttempts.WithLabelValues("stat", "media").Add(0)
	})

	t.Run("FilesystemRetrySuccess by retry op and volume", func(_ *testing.T) {
		FilesystemRetrySuccess.WithLabelValues("stat", "media").Add(0)
	})

	t.Run("FilesystemRetryFailures by retry op and volume", func(_ *testing.T) {
		FilesystemRetryFailures.WithLabelValues("stat", "media").Add(0)
	})

	t.Run("FilesystemStaleErrors by retry op and volume", func(_ *testing.T) {
		FilesystemStaleErrors.WithLabelValues("stat", "media").Add(0)
	})

	t.Run("FilesystemRetryDuration by retry op and volume", func(_ *testing.T) {
		FilesystemRetryDuration.WithLabelValues("stat", "media").Observe(0.02)
	})
}

func TestAppInfoMetric(t *testing.T) {
	if AppInfo == nil {
		t.Fatal("AppInfo metric is nil")
	}

	t.Run("SetAppInfo function", func(_ *testing.T) {
		SetAppInfo("1.0.0", "abc123", "go1.25.0")
		SetAppInfo("2.0.0", "def456", "go1.25.1")
	})
}

func TestMetricsConcurrentAccess(t *testing.T) {
	// Test that metrics can be updated concurrently without panic
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(id int) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Goroutine %d panicked: %v", id, r)
				}
				done <- true
			}()

			CatalogQueryTotal.WithLabelValues("get_collection", "success").Inc()
			JobsCreatedTotal.WithLabelValues("libraryScan").Inc()
			WorkerMessagesTotal.WithLabelValues("library.scan", "completed").Inc()
			BusConsumedTotal.WithLabelValues("library.scan", "acked").Inc()
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkCatalogQueryMetrics(b *testing.B) {
	b.Run("Counter increment", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			CatalogQueryTotal.WithLabelValues("get_collection", "success").Inc()
		}
	})

	b.Run("Histogram observe", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			CatalogQueryDuration.WithLabelValues("get_collection").Observe(0.001)
		}
	})
}

func BenchmarkWorkerMetrics(b *testing.B) {
	b.Run("Messages counter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			WorkerMessagesTotal.WithLabelValues("library.scan", "completed").Inc()
		}
	})

	b.Run("Process duration histogram", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			WorkerProcessDuration.WithLabelValues("library.scan").Observe(0.1)
		}
	})
}
