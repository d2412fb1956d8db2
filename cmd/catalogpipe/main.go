package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.etcd.io/bbolt"

	"catalogpipe/internal/archive"
	"catalogpipe/internal/bulkop"
	"catalogpipe/internal/bus"
	"catalogpipe/internal/cachealloc"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/collectionscan"
	"catalogpipe/internal/config"
	"catalogpipe/internal/control"
	"catalogpipe/internal/derivative"
	"catalogpipe/internal/filesystem"
	"catalogpipe/internal/index"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/memory"
	"catalogpipe/internal/metrics"
	"catalogpipe/internal/scancoord"
	"catalogpipe/internal/scheduler"
	"catalogpipe/internal/stage"
	"catalogpipe/internal/walker"
	"catalogpipe/internal/worker"
)

// metricsCollectionInterval is how often the metrics Collector polls the
// catalog store and database handle for gauge updates.
const metricsCollectionInterval = 30 * time.Second

// version and commit are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// catalogStatsProvider adapts a catalog.Store to metrics.StatsProvider,
// summing active libraries' cached statistics rather than scanning every
// collection on each poll.
type catalogStatsProvider struct {
	store *catalog.Store
}

func (p *catalogStatsProvider) GetStats(ctx context.Context) (metrics.Stats, error) {
	libraries, err := p.store.ListActiveLibraries(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	folders, err := p.store.ListActiveCacheFolders(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	stats := metrics.Stats{Libraries: len(libraries), CacheFolders: len(folders)}
	for _, lib := range libraries {
		stats.Collections += lib.Statistics.CollectionCount
		stats.MediaItems += lib.Statistics.MediaCount
	}
	return stats, nil
}

func main() {
	startTime := time.Now()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetAppInfo(version, commit, runtime.Version())
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	store, err := catalog.Open(ctx, cfg.CatalogDBPath)
	if err != nil {
		logging.Fatal("failed to open catalog store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error("failed to close catalog store: %v", err)
		}
	}()

	jobLedger := ledger.New(store.DB())
	if err := jobLedger.Migrate(ctx); err != nil {
		logging.Fatal("failed to migrate job ledger: %v", err)
	}

	msgBus, err := bus.Open(cfg.BusDBPath)
	if err != nil {
		logging.Fatal("failed to open message bus: %v", err)
	}
	defer func() {
		if err := msgBus.Close(); err != nil {
			logging.Error("failed to close message bus: %v", err)
		}
	}()
	for topic, policy := range cfg.QueuePolicy {
		msgBus.SetPolicy(topic, policy)
	}

	idx, err := index.Open(ctx, store, cfg.IndexDBPath, cfg.IndexRebuildThresholdRatio)
	if err != nil {
		logging.Fatal("failed to open collection index: %v", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			logging.Error("failed to close collection index: %v", err)
		}
	}()

	leaseDB, err := bbolt.Open(cfg.LeaseDBPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		logging.Fatal("failed to open scheduler lease database: %v", err)
	}
	defer func() {
		if err := leaseDB.Close(); err != nil {
			logging.Error("failed to close scheduler lease database: %v", err)
		}
	}()

	volumes := filesystem.NewVolumeResolver(map[string]string{
		"database": cfg.DatabaseDir,
		"cache":    cfg.CacheDir,
	})
	archives := archive.NewPool(32)
	defer func() {
		if err := archives.CloseAll(); err != nil {
			logging.Error("failed to close archive pool: %v", err)
		}
	}()
	allocator := cachealloc.New(store, volumes)

	memConfig := memory.DefaultConfig()
	monitor := memory.NewMonitor(memConfig)
	monitor.Start()
	defer monitor.Stop()

	collector := metrics.NewCollector(&catalogStatsProvider{store: store}, store.DB(), cfg.CatalogDBPath, metricsCollectionInterval)
	collector.Start()
	defer collector.Stop()

	scanCoord := scancoord.New(store, jobLedger, msgBus)
	collectionScan := collectionscan.New(store, archives, jobLedger, msgBus)
	derivativeEngine := derivative.New(store, allocator, archives, monitor)
	bulkOps := bulkop.New(store, jobLedger, msgBus)

	deps := stage.Deps{
		Store: store, Ledger: jobLedger, Bus: msgBus, Memory: monitor,
		ScanCoord: scanCoord, Collections: collectionScan, Derivatives: derivativeEngine, BulkOps: bulkOps,
		Concurrency: cfg.WorkerConcurrency,
	}
	consumers := []*worker.Consumer{
		stage.NewLibraryScanConsumer(deps),
		stage.NewCollectionScanConsumer(deps),
		stage.NewThumbnailConsumer(deps),
		stage.NewCacheConsumer(deps),
		stage.NewBulkOperationConsumer(deps),
	}
	for _, c := range consumers {
		go c.Run(ctx)
	}

	sched, err := scheduler.New(store, jobLedger, msgBus, leaseDB)
	if err != nil {
		logging.Fatal("failed to create scheduler: %v", err)
	}
	sched.CoalesceDuplicates = cfg.SchedulerCoalesceDuplicates
	if err := sched.Seed(ctx); err != nil {
		logging.Error("failed to seed scheduled jobs: %v", err)
	}
	go sched.Run(ctx)

	// controlPlane is the composition boundary: this binary starts the
	// pipeline's background machinery and stops there, leaving a transport
	// (CLI, admin API, whatever needs it) to import internal/control and
	// drive this Service.
	controlPlane := control.New(store, jobLedger, msgBus, idx, scanCoord)
	_ = controlPlane

	startLibraryWatches(ctx, store, msgBus)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("metrics server error: %v", err)
			}
		}()
	}

	logging.Info("catalogpipe started in %s", time.Since(startTime))

	<-ctx.Done()
	logging.Info("shutdown signal received, draining stage consumers and scheduler")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("metrics server shutdown error: %v", err)
		}
		cancel()
	}
}

// startLibraryWatches layers an fsnotify watch on top of every active,
// auto-scanning library, publishing a library.scan trigger on filesystem
// change rather than waiting for the Scheduler's next interval. The Scan
// Coordinator's own coalescing means an overlapping Scheduler firing and
// watch trigger collapse into a single scan.
func startLibraryWatches(ctx context.Context, store *catalog.Store, msgBus *bus.Bus) {
	libraries, err := store.ListActiveLibraries(ctx)
	if err != nil {
		logging.Warn("failed to list libraries for filesystem watch: %v", err)
		return
	}
	for _, lib := range libraries {
		if !lib.Settings.AutoScan {
			continue
		}
		lib := lib
		go func() {
			trigger := func() {
				err := msgBus.Publish(bus.TopicLibraryScan, bus.Message{
					Payload: map[string]any{"libraryId": lib.ID, "force": false},
				})
				if err != nil {
					logging.Warn("watch trigger: publish library.scan for %s: %v", lib.ID, err)
				}
			}
			if err := walker.Watch(ctx, lib.RootPath, 2*time.Second, trigger); err != nil {
				logging.Warn("filesystem watch for library %s (%s) failed: %v", lib.ID, lib.RootPath, err)
			}
		}()
	}
}
