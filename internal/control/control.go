package control

import (
	"context"
	"fmt"
	"time"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/index"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/scancoord"
	"catalogpipe/internal/scheduler"
)

// catalogStore is the narrow Store surface the control plane needs beyond
// what scancoord/index already take for themselves.
type catalogStore interface {
	GetCollection(ctx context.Context, id string) (catalog.Collection, error)
	CreateScheduledJob(ctx context.Context, sj catalog.ScheduledJob) (catalog.ScheduledJob, error)
	GetScheduledJob(ctx context.Context, id string) (catalog.ScheduledJob, error)
	SetScheduledJobEnabled(ctx context.Context, id string, enabled bool) error
	SetScheduledJobNextRun(ctx context.Context, id string, next *time.Time) error
}

// Service implements the pipeline's inbound control-plane operations.
type Service struct {
	store     catalogStore
	ledger    *ledger.Ledger
	bus       *bus.Bus
	index     *index.Index
	scanCoord *scancoord.Coordinator
}

func New(store catalogStore, l *ledger.Ledger, b *bus.Bus, idx *index.Index, sc *scancoord.Coordinator) *Service {
	return &Service{store: store, ledger: l, bus: b, index: idx, scanCoord: sc}
}

// StartLibraryScan begins (or coalesces with an already-running) a library
// scan. The Coordinator owns the Job Ledger entry and its own coalescing.
func (s *Service) StartLibraryScan(ctx context.Context, libraryID string, force bool) (string, error) {
	job, err := s.scanCoord.BeginLibraryScan(ctx, libraryID, force)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// StartCollectionScan begins (or coalesces with an already-running)
// collection scan. Unlike LibraryScan, collectionscan.Worker does not
// self-manage a parent Job Ledger entry, so the control plane creates and
// coalesces it here before publishing.
func (s *Service) StartCollectionScan(ctx context.Context, collectionID string, force, useDirectFileAccess bool) (string, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return "", fmt.Errorf("control: %w", err)
	}
	if existing, ok, err := s.ledger.FindNonTerminalByTarget(ctx, ledger.KindCollectionScan, collectionID); err != nil {
		return "", err
	} else if ok {
		return existing.ID, nil
	}

	job, err := s.ledger.Create(ctx, ledger.Job{Kind: ledger.KindCollectionScan, TargetID: collectionID})
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"collectionId": collectionID, "force": force, "useDirectFileAccess": useDirectFileAccess,
	}
	if err := s.bus.Publish(bus.TopicCollectionScan, bus.Message{JobID: job.ID, Payload: payload}); err != nil {
		return "", err
	}
	return job.ID, nil
}

// ListCollections pages the Ordered Collection Index.
func (s *Service) ListCollections(sortKey index.SortKey, dir index.Direction, filter index.Filter, page, pageSize int) ([]index.Entry, int, error) {
	if page < 0 {
		page = 0
	}
	return s.index.ListPage(sortKey, dir, filter, page*pageSize, pageSize)
}

// GetCollectionSiblings returns the entries within radius positions of
// collectionID in the given sort dimension, unfiltered.
func (s *Service) GetCollectionSiblings(collectionID string, radius int, sortKey index.SortKey, dir index.Direction) ([]index.Entry, error) {
	entries, _, _, err := s.index.Siblings(collectionID, radius, sortKey, dir, index.Filter{})
	return entries, err
}

// RebuildIndex triggers a full Ordered Collection Index reconstruction
// from the Catalog Store and returns a Job Ledger id the caller can poll.
// Index rebuilds have no dedicated ledger.Kind of their own; they are
// tracked as KindMetadata maintenance work targeting "index".
func (s *Service) RebuildIndex(ctx context.Context) (string, error) {
	job, err := s.ledger.Create(ctx, ledger.Job{Kind: ledger.KindMetadata, TargetID: "index"})
	if err != nil {
		return "", err
	}
	if err := s.ledger.Start(ctx, job.ID); err != nil {
		return "", err
	}
	go func() {
		bg := context.Background()
		if err := s.index.Rebuild(bg); err != nil {
			_ = s.ledger.Fail(bg, job.ID, err.Error())
			return
		}
		_ = s.ledger.Complete(bg, job.ID)
	}()
	return job.ID, nil
}

// CreateScheduledJob inserts a new ScheduledJob and, if enabled, seeds its
// first NextRunAt so the Scheduler picks it up without waiting for its own
// periodic Seed pass.
func (s *Service) CreateScheduledJob(ctx context.Context, sj catalog.ScheduledJob) (catalog.ScheduledJob, error) {
	created, err := s.store.CreateScheduledJob(ctx, sj)
	if err != nil {
		return catalog.ScheduledJob{}, err
	}
	if !created.Enabled {
		return created, nil
	}
	next, err := scheduler.NextRun(created, time.Now().UTC())
	if err != nil {
		return catalog.ScheduledJob{}, fmt.Errorf("control: compute initial next run: %w", err)
	}
	if err := s.store.SetScheduledJobNextRun(ctx, created.ID, &next); err != nil {
		return catalog.ScheduledJob{}, err
	}
	created.NextRunAt = &next
	return created, nil
}

// EnableScheduledJob re-enables a ScheduledJob and recomputes NextRunAt from
// now, so a job disabled for a while does not immediately fire a backlog.
func (s *Service) EnableScheduledJob(ctx context.Context, id string) error {
	if err := s.store.SetScheduledJobEnabled(ctx, id, true); err != nil {
		return err
	}
	sj, err := s.store.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	next, err := scheduler.NextRun(sj, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("control: compute next run for %s: %w", id, err)
	}
	return s.store.SetScheduledJobNextRun(ctx, id, &next)
}

// DisableScheduledJob disables a ScheduledJob; SetScheduledJobEnabled
// forces NextRunAt to nil per the ScheduledJob invariant.
func (s *Service) DisableScheduledJob(ctx context.Context, id string) error {
	return s.store.SetScheduledJobEnabled(ctx, id, false)
}

// CancelJob transitions a Pending or Running job straight to Cancelled.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	return s.ledger.Cancel(ctx, jobID)
}
