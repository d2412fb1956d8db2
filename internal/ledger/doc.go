// Package ledger is the Job Ledger: the authoritative progress source for
// every pipeline job, its parent/child relationships, and its terminal
// status. It shares the catalog database handle (see
// [catalogpipe/internal/catalog]) but owns the jobs table exclusively.
//
// Jobs are immutable once terminal (Completed/Failed/Cancelled). Progress
// updates (completed/failed/skipped/pending counters) are applied with SQL
// UPDATEs that are themselves atomic per row. The ledger does not sum child
// rows into their parent: a parent's counters change only through its own
// UpdateProgress, IncrementCounters and AddToParentTotal calls.
package ledger
