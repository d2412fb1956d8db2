// Package catalog is the authoritative document store: libraries,
// collections (with embedded media/thumbnail/cache entries), cache folders,
// and scheduled jobs. The job ledger lives in [catalogpipe/internal/ledger]
// against the same database handle.
//
// Collections are stored embedded-document style: one row per Collection
// with its mediaItems/thumbnails/cacheImages/cacheBindings lists serialized
// as a JSON column, plus a monotonic version column. Every mutation is a
// compare-and-set on (id, version) — see [Store.UpdateCollection] — which
// stands in for the multi-document transaction a native document store would
// give for free.
//
// The schema is plain SQL over database/sql + mattn/go-sqlite3, in WAL mode,
// with busy_timeout, cache_size, and temp_store=MEMORY tuned for a
// single-writer-many-reader workload.
package catalog
