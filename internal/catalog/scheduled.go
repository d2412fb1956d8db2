package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateScheduledJob validates and inserts a new ScheduledJob. A Cron
// schedule must carry a cronSpec (parseability is checked by the scheduler
// package, which owns the cron grammar); enabled=false forces nextRunAt=nil.
func (s *Store) CreateScheduledJob(ctx context.Context, sj ScheduledJob) (ScheduledJob, error) {
	if sj.ScheduleType == ScheduleCron && sj.CronSpec == "" {
		return ScheduledJob{}, fmt.Errorf("%w: cronSpec is required for Cron schedules", ErrValidation)
	}
	if sj.ID == "" {
		sj.ID = uuid.NewString()
	}
	if !sj.Enabled {
		sj.NextRunAt = nil
	}
	paramsJSON, err := json.Marshal(sj.Parameters)
	if err != nil {
		return ScheduledJob{}, err
	}

	done := observeQuery("create_scheduled_job")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			id, display_name, target_kind, schedule_type, cron_spec, interval_secs,
			enabled, run_count, coalesced_runs, last_run_at, next_run_at, parameters_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?, ?)`,
		sj.ID, sj.DisplayName, sj.TargetKind, string(sj.ScheduleType), sj.CronSpec, sj.IntervalSecs,
		boolToInt(sj.Enabled), nullableUnix(sj.NextRunAt), paramsJSON)
	done(err)
	if err != nil {
		return ScheduledJob{}, err
	}
	return sj, nil
}

// SetScheduledJobEnabled enables or disables a ScheduledJob; disabling
// forces nextRunAt to null per the invariant.
func (s *Store) SetScheduledJobEnabled(ctx context.Context, id string, enabled bool) error {
	if !enabled {
		_, err := s.db.ExecContext(ctx, `UPDATE scheduled_jobs SET enabled = 0, next_run_at = NULL WHERE id = ?`, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_jobs SET enabled = 1 WHERE id = ?`, id)
	return err
}

// SetScheduledJobNextRun updates the computed nextRunAt for a schedule.
func (s *Store) SetScheduledJobNextRun(ctx context.Context, id string, next *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_jobs SET next_run_at = ? WHERE id = ?`, nullableUnix(next), id)
	return err
}

// RecordScheduledJobFired bumps runCount/lastRunAt after a successful firing.
func (s *Store) RecordScheduledJobFired(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET run_count = run_count + 1, last_run_at = ? WHERE id = ?`, at.Unix(), id)
	return err
}

// RecordScheduledJobCoalesced bumps coalescedRuns/lastRunAt when a firing was
// skipped because a non-terminal job for the same target already exists.
func (s *Store) RecordScheduledJobCoalesced(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET coalesced_runs = coalesced_runs + 1, last_run_at = ? WHERE id = ?`, at.Unix(), id)
	return err
}

// ListEnabledScheduledJobs returns every ScheduledJob with enabled=true.
func (s *Store) ListEnabledScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, target_kind, schedule_type, cron_spec, interval_secs,
		       enabled, run_count, coalesced_runs, last_run_at, next_run_at, parameters_json
		FROM scheduled_jobs WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledJob
	for rows.Next() {
		sj, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sj)
	}
	return out, rows.Err()
}

// GetScheduledJob loads a ScheduledJob by id.
func (s *Store) GetScheduledJob(ctx context.Context, id string) (ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, target_kind, schedule_type, cron_spec, interval_secs,
		       enabled, run_count, coalesced_runs, last_run_at, next_run_at, parameters_json
		FROM scheduled_jobs WHERE id = ?`, id)
	sj, err := scanScheduledJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduledJob{}, ErrNotFound
	}
	return sj, err
}

func scanScheduledJob(scanner rowScanner) (ScheduledJob, error) {
	var sj ScheduledJob
	var scheduleType string
	var enabled int
	var lastRunAt, nextRunAt sql.NullInt64
	var paramsJSON string

	err := scanner.Scan(&sj.ID, &sj.DisplayName, &sj.TargetKind, &scheduleType, &sj.CronSpec, &sj.IntervalSecs,
		&enabled, &sj.RunCount, &sj.CoalescedRuns, &lastRunAt, &nextRunAt, &paramsJSON)
	if err != nil {
		return ScheduledJob{}, err
	}
	sj.ScheduleType = ScheduleType(scheduleType)
	sj.Enabled = enabled != 0
	if lastRunAt.Valid {
		t := time.Unix(lastRunAt.Int64, 0).UTC()
		sj.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := time.Unix(nextRunAt.Int64, 0).UTC()
		sj.NextRunAt = &t
	}
	if paramsJSON != "" {
		_ = json.Unmarshal([]byte(paramsJSON), &sj.Parameters)
	}
	return sj, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
