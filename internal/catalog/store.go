package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

// defaultTimeout bounds a single catalog operation.
const defaultTimeout = 5 * time.Second

// Store is the Catalog Store: the authoritative document store of
// libraries, collections, cache folders, and scheduled jobs. The job ledger
// (internal/ledger) operates against the same handle so that a job write and
// its triggering catalog write can share a transaction where needed.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the catalog database at path, applying the schema
// (idempotent CREATE TABLE/INDEX IF NOT EXISTS) and WAL pragmas.
func Open(ctx context.Context, path string) (*Store, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for sibling packages (ledger) that share
// the same physical database file and must not open a second connection
// pool against it.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS libraries (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		root_path TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		settings_json TEXT NOT NULL DEFAULT '{}',
		statistics_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		library_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		settings_json TEXT NOT NULL DEFAULT '{}',
		statistics_json TEXT NOT NULL DEFAULT '{}',
		media_items_json TEXT NOT NULL DEFAULT '[]',
		thumbnails_json TEXT NOT NULL DEFAULT '[]',
		cache_images_json TEXT NOT NULL DEFAULT '[]',
		cache_bindings_json TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(library_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_collections_library ON collections(library_id);
	CREATE INDEX IF NOT EXISTS idx_collections_updated ON collections(updated_at);
	CREATE INDEX IF NOT EXISTS idx_collections_deleted ON collections(deleted);

	CREATE TABLE IF NOT EXISTS cache_folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		max_bytes INTEGER NOT NULL,
		current_bytes INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		schedule_type TEXT NOT NULL,
		cron_spec TEXT NOT NULL DEFAULT '',
		interval_secs INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		run_count INTEGER NOT NULL DEFAULT 0,
		coalesced_runs INTEGER NOT NULL DEFAULT 0,
		last_run_at INTEGER,
		next_run_at INTEGER,
		parameters_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS scheduled_job_runs (
		id TEXT PRIMARY KEY,
		scheduled_job_id TEXT NOT NULL,
		job_id TEXT,
		fired_at INTEGER NOT NULL,
		coalesced INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_job_runs_job ON scheduled_job_runs(scheduled_job_id);

	CREATE TABLE IF NOT EXISTS file_processing_job_states (
		job_id TEXT NOT NULL,
		media_item_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, media_item_id, stage)
	);

	CREATE TABLE IF NOT EXISTS system_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	done := observeQuery("migrate_schema")
	_, err := s.db.ExecContext(ctx, schema)
	done(err)
	return err
}

// observeQuery times a catalog operation and records it to metrics/logging.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		duration := time.Since(start).Seconds()
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.CatalogQueryTotal.WithLabelValues(operation, status).Inc()
		metrics.CatalogQueryDuration.WithLabelValues(operation).Observe(duration)
		if duration > 0.1 {
			logging.Warn("slow catalog query: operation=%s duration=%.3fs status=%s", operation, duration, status)
		}
	}
}
