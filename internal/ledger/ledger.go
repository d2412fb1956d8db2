package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

// ErrNotFound is returned when a Job lookup by id finds nothing.
var ErrNotFound = errors.New("ledger: job not found")

// ErrTerminal is returned when a caller attempts to mutate a terminal Job.
var ErrTerminal = errors.New("ledger: job is terminal and immutable")

// Ledger is the Job Ledger. It shares a *sql.DB with the catalog package
// (same physical database file) so that job-table migrations run alongside
// the catalog schema.
type Ledger struct {
	db *sql.DB
}

// New wraps an existing database handle (typically catalog.Store.DB()).
// Migrate must be called once before use.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Migrate creates the jobs table if absent. Idempotent.
func (l *Ledger) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		parent_job_id TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		parameters_json TEXT NOT NULL DEFAULT '{}',
		progress_total INTEGER NOT NULL DEFAULT 0,
		progress_completed INTEGER NOT NULL DEFAULT 0,
		progress_failed INTEGER NOT NULL DEFAULT 0,
		progress_skipped INTEGER NOT NULL DEFAULT 0,
		progress_current_item TEXT NOT NULL DEFAULT '',
		stage_thumbnails_done INTEGER NOT NULL DEFAULT 0,
		stage_cache_done INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_job_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_kind_target_status ON jobs(kind, target_id, status);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Create inserts a new Job in Pending status.
func (l *Ledger) Create(ctx context.Context, j Job) (Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CorrelationID == "" {
		j.CorrelationID = j.ID
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	j.CreatedAt = time.Now().UTC()

	paramsJSON, err := json.Marshal(j.Parameters)
	if err != nil {
		return Job{}, err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, kind, parent_job_id, correlation_id, target_id, status, created_at,
			attempts, timeout_ms, parameters_json,
			progress_total, progress_completed, progress_failed, progress_skipped, progress_current_item,
			stage_thumbnails_done, stage_cache_done, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), j.ParentJobID, j.CorrelationID, j.TargetID, string(j.Status), j.CreatedAt.Unix(),
		j.Attempts, j.TimeoutMs, paramsJSON,
		j.Progress.Total, j.Progress.Completed, j.Progress.Failed, j.Progress.Skipped, j.Progress.CurrentItem,
		j.Stage.ThumbnailsDone, j.Stage.CacheDone, j.FailureReason)
	if err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	metrics.JobsCreatedTotal.WithLabelValues(string(j.Kind)).Inc()
	return j, nil
}

// Get loads a Job by id.
func (l *Ledger) Get(ctx context.Context, id string) (Job, error) {
	row := l.db.QueryRowContext(ctx, jobSelectCols+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// FindNonTerminalByTarget looks up a job of the given kind + target that has
// not yet reached a terminal state — used by the Scan Coordinator and
// Scheduler to coalesce duplicate requests.
func (l *Ledger) FindNonTerminalByTarget(ctx context.Context, kind Kind, targetID string) (Job, bool, error) {
	rows, err := l.db.QueryContext(ctx, jobSelectCols+`
		FROM jobs WHERE kind = ? AND target_id = ? AND status IN ('Pending','Running')
		ORDER BY created_at DESC LIMIT 1`, string(kind), targetID)
	if err != nil {
		return Job{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return Job{}, false, rows.Err()
	}
	j, err := scanJob(rows)
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

// Start transitions a Pending job to Running, recording startedAt. Retries
// (attempts>0) also call this to reset to Running.
func (l *Ledger) Start(ctx context.Context, id string) error {
	j, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return ErrTerminal
	}
	now := time.Now().UTC()
	_, err = l.db.ExecContext(ctx, `UPDATE jobs SET status = 'Running', started_at = ? WHERE id = ?`, now.Unix(), id)
	return err
}

// Retry increments attempts and resets the job to Running.
func (l *Ledger) Retry(ctx context.Context, id string) error {
	j, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return ErrTerminal
	}
	_, err = l.db.ExecContext(ctx, `UPDATE jobs SET attempts = attempts + 1, status = 'Running' WHERE id = ?`, id)
	return err
}

// UpdateProgress sets the progress counters. Total never decreases: a
// p.Total smaller than the stored total is replaced by the stored one.
func (l *Ledger) UpdateProgress(ctx context.Context, id string, p Progress) error {
	j, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return ErrTerminal
	}
	if p.Total < j.Progress.Total {
		p.Total = j.Progress.Total
	}
	_, err = l.db.ExecContext(ctx, `
		UPDATE jobs SET progress_total = ?, progress_completed = ?, progress_failed = ?,
		                progress_skipped = ?, progress_current_item = ?
		WHERE id = ?`, p.Total, p.Completed, p.Failed, p.Skipped, p.CurrentItem, id)
	return err
}

// IncrementCounters atomically adds to completed/failed/skipped (e.g. one
// per finished derivative message) without a read-modify-write race, and
// bumps the matching stage counter.
func (l *Ledger) IncrementCounters(ctx context.Context, id string, completed, failed, skipped int, stage StageDelta) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE jobs SET
			progress_completed = progress_completed + ?,
			progress_failed = progress_failed + ?,
			progress_skipped = progress_skipped + ?,
			stage_thumbnails_done = stage_thumbnails_done + ?,
			stage_cache_done = stage_cache_done + ?
		WHERE id = ? AND status NOT IN ('Completed','Failed','Cancelled')`,
		completed, failed, skipped, stage.Thumbnails, stage.Cache, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTerminal
	}
	return nil
}

// StageDelta is the per-call increment for IncrementCounters' stage counters.
type StageDelta struct {
	Thumbnails int
	Cache      int
}

// AddToParentTotal bumps a parent job's progress.Total when a child fans out
// more work than initially estimated (never decreases).
func (l *Ledger) AddToParentTotal(ctx context.Context, parentID string, delta int) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE jobs SET progress_total = progress_total + ?
		WHERE id = ? AND status NOT IN ('Completed','Failed','Cancelled') AND ? > 0`, delta, parentID, delta)
	return err
}

// Complete transitions a Job to Completed.
func (l *Ledger) Complete(ctx context.Context, id string) error {
	return l.finish(ctx, id, StatusCompleted, "")
}

// Fail transitions a Job to Failed with a reason.
func (l *Ledger) Fail(ctx context.Context, id string, reason string) error {
	return l.finish(ctx, id, StatusFailed, reason)
}

// Cancel transitions a Job to Cancelled, and cascades to every non-terminal
// child: cancellation marks all non-terminal children Cancelled.
func (l *Ledger) Cancel(ctx context.Context, id string) error {
	if err := l.finish(ctx, id, StatusCancelled, "cancelled by operator"); err != nil && !errors.Is(err, ErrTerminal) {
		return err
	}
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM jobs WHERE parent_job_id = ? AND status IN ('Pending','Running')`, id)
	if err != nil {
		return err
	}
	var childIDs []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return err
		}
		childIDs = append(childIDs, cid)
	}
	rows.Close()
	for _, cid := range childIDs {
		if err := l.Cancel(ctx, cid); err != nil && !errors.Is(err, ErrTerminal) {
			logging.Warn("cancel child job %s: %v", cid, err)
		}
	}
	return nil
}

func (l *Ledger) finish(ctx context.Context, id string, status Status, reason string) error {
	j, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return ErrTerminal
	}
	now := time.Now().UTC()
	_, err = l.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, failure_reason = ? WHERE id = ?`,
		string(status), now.Unix(), reason, id)
	if err == nil {
		metrics.JobsCompletedTotal.WithLabelValues(string(j.Kind), string(status)).Inc()
	}
	return err
}

// ListChildren returns every job with ParentJobID == id.
func (l *Ledger) ListChildren(ctx context.Context, id string) ([]Job, error) {
	rows, err := l.db.QueryContext(ctx, jobSelectCols+` FROM jobs WHERE parent_job_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const jobSelectCols = `
	SELECT id, kind, parent_job_id, correlation_id, target_id, status, created_at, started_at, completed_at,
	       attempts, timeout_ms, parameters_json,
	       progress_total, progress_completed, progress_failed, progress_skipped, progress_current_item,
	       stage_thumbnails_done, stage_cache_done, failure_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (Job, error) {
	var j Job
	var kind, status, paramsJSON string
	var startedAt, completedAt sql.NullInt64
	var createdAt int64

	err := s.Scan(&j.ID, &kind, &j.ParentJobID, &j.CorrelationID, &j.TargetID, &status, &createdAt, &startedAt, &completedAt,
		&j.Attempts, &j.TimeoutMs, &paramsJSON,
		&j.Progress.Total, &j.Progress.Completed, &j.Progress.Failed, &j.Progress.Skipped, &j.Progress.CurrentItem,
		&j.Stage.ThumbnailsDone, &j.Stage.CacheDone, &j.FailureReason)
	if err != nil {
		return Job{}, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		j.CompletedAt = &t
	}
	if paramsJSON != "" {
		_ = json.Unmarshal([]byte(paramsJSON), &j.Parameters)
	}
	return j, nil
}
