// Package scheduler fires ScheduledJobs: it polls enabled
// catalog.ScheduledJob records, computes due times with
// github.com/robfig/cron/v3 (Cron) or simple interval arithmetic
// (Interval; Once stays eligible until it fires once), and publishes the
// matching library.scan / collection.scan / bulk.operation message.
//
// Before firing it takes a short-TTL bbolt lease keyed scheduler:{jobId} so
// that two Scheduler instances pointed at the same lease database never
// double-fire the same ScheduledJob, and it checks the Job Ledger for a
// non-terminal job against the same (kind, target) — independent of
// scancoord's own coalescing for LibraryScan — so a ScheduledJob's
// coalescedRun counter reflects ScheduledJob-level dedup specifically. A
// missed Cron/Interval slot is skipped rather than caught up, since
// cron.Schedule.Next always returns the next occurrence strictly after the
// time given to it.
package scheduler
