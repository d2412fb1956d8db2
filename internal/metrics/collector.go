package metrics

import (
	"context"
	"database/sql"
	"os"
	"time"

	"catalogpipe/internal/filesystem"
	"catalogpipe/internal/logging"
)

// StatsProvider supplies the catalog-wide rollup counters a Collector
// exports on each poll.
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// Stats holds catalog-wide rollup counters, summed from the active
// libraries' cached statistics so a poll never requires a full table scan.
type Stats struct {
	Libraries    int
	Collections  int
	MediaItems   int
	CacheFolders int
}

// Collector periodically polls a StatsProvider and the catalog database
// handle and publishes the results as Prometheus gauges.
type Collector struct {
	statsProvider StatsProvider
	db            *sql.DB
	dbPath        string
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a collector that polls provider for catalog stats and
// db/dbPath for database size and connection-pool occupancy, every interval.
func NewCollector(provider StatsProvider, db *sql.DB, dbPath string, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		db:            db,
		dbPath:        dbPath,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection loop.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect(context.Background())
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	c.collectDBSize()
	c.collectDBConnections()

	if c.statsProvider == nil {
		return
	}

	stats, err := c.statsProvider.GetStats(ctx)
	if err != nil {
		logging.Debug("failed to collect catalog stats: %v", err)
		return
	}

	CatalogLibrariesActive.Set(float64(stats.Libraries))
	CatalogCollectionsActive.Set(float64(stats.Collections))
	CatalogMediaItemsTotal.Set(float64(stats.MediaItems))
	CatalogCacheFoldersActive.Set(float64(stats.CacheFolders))

	logging.Debug("catalog stats collected: libraries=%d collections=%d mediaItems=%d cacheFolders=%d",
		stats.Libraries, stats.Collections, stats.MediaItems, stats.CacheFolders)
}

func (c *Collector) collectDBConnections() {
	if c.db == nil {
		return
	}
	CatalogDBConnectionsOpen.Set(float64(c.db.Stats().OpenConnections))
}

// collectDBSize stats the catalog's main/WAL/SHM files using retry-aware
// filesystem operations, since the database directory may live on an
// NFS-backed volume subject to transient ESTALE errors.
func (c *Collector) collectDBSize() {
	if c.dbPath == "" {
		return
	}

	retryConfig := filesystem.DefaultRetryConfig()

	if fileInfo, err := filesystem.StatWithRetry(c.dbPath, retryConfig); err == nil {
		CatalogDBSizeBytes.WithLabelValues("main").Set(float64(fileInfo.Size()))
	} else if !os.IsNotExist(err) {
		logging.Debug("failed to stat catalog database file: %v", err)
	}

	if walInfo, err := filesystem.StatWithRetry(c.dbPath+"-wal", retryConfig); err == nil {
		CatalogDBSizeBytes.WithLabelValues("wal").Set(float64(walInfo.Size()))
	} else {
		CatalogDBSizeBytes.WithLabelValues("wal").Set(0)
	}

	if shmInfo, err := filesystem.StatWithRetry(c.dbPath+"-shm", retryConfig); err == nil {
		CatalogDBSizeBytes.WithLabelValues("shm").Set(float64(shmInfo.Size()))
	} else {
		CatalogDBSizeBytes.WithLabelValues("shm").Set(0)
	}
}
