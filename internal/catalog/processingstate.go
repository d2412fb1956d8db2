package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ProcessingState is the per-(job, media item, stage) resumability marker
// backing the persisted fileProcessingJobStates table. A worker consumes
// at-least-once; before doing real work it checks whether this media item
// already reached a terminal state for this job+stage, so a redelivered
// message after a crash does not redo completed work.
type ProcessingState string

const (
	ProcessingPending ProcessingState = "pending"
	ProcessingDone     ProcessingState = "done"
	ProcessingSkipped  ProcessingState = "skipped"
	ProcessingFailed   ProcessingState = "failed"
)

// GetProcessingState returns the recorded state, or ("", false) if none.
func (s *Store) GetProcessingState(ctx context.Context, jobID, mediaItemID, stage string) (ProcessingState, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM file_processing_job_states WHERE job_id = ? AND media_item_id = ? AND stage = ?`,
		jobID, mediaItemID, stage).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ProcessingState(state), true, nil
}

// SetProcessingState upserts the resumability marker for one item.
func (s *Store) SetProcessingState(ctx context.Context, jobID, mediaItemID, stage string, state ProcessingState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_processing_job_states (job_id, media_item_id, stage, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id, media_item_id, stage) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		jobID, mediaItemID, stage, string(state), time.Now().Unix())
	return err
}
