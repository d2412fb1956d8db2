package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.etcd.io/bbolt"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

var bucketLeases = []byte("scheduler:lease")

// catalogStore is the narrow ScheduledJob surface the Scheduler needs.
type catalogStore interface {
	ListEnabledScheduledJobs(ctx context.Context) ([]catalog.ScheduledJob, error)
	SetScheduledJobEnabled(ctx context.Context, id string, enabled bool) error
	SetScheduledJobNextRun(ctx context.Context, id string, next *time.Time) error
	RecordScheduledJobFired(ctx context.Context, id string, at time.Time) error
	RecordScheduledJobCoalesced(ctx context.Context, id string, at time.Time) error
}

// topicForKind maps a ScheduledJob.TargetKind (a ledger.Kind string) to the
// bus topic that triggers that kind of work.
var topicForKind = map[ledger.Kind]string{
	ledger.KindLibraryScan:    bus.TopicLibraryScan,
	ledger.KindCollectionScan: bus.TopicCollectionScan,
	ledger.KindBulkOperation:  bus.TopicBulkOperation,
}

// Scheduler polls ScheduledJobs and publishes due triggers.
type Scheduler struct {
	store    catalogStore
	ledger   *ledger.Ledger
	bus      *bus.Bus
	leaseDB  *bbolt.DB
	leaseTTL time.Duration
	ownerID  string

	// PollInterval is how often Run checks for due ScheduledJobs.
	PollInterval time.Duration

	// CoalesceDuplicates gates the Job-Ledger dedup check before firing
	// (configuration key scheduler.coalesceDuplicates, default true). Disabling it
	// means every due ScheduledJob fires regardless of an already-running
	// job for the same target -- downstream workers and scancoord's own
	// coalescing still apply, this only controls the Scheduler-level check
	// that drives coalescedRun bookkeeping.
	CoalesceDuplicates bool
}

// New opens the scheduler lease bucket on leaseDB (typically the same bbolt
// handle used elsewhere, or a dedicated one) and returns a ready Scheduler.
func New(store catalogStore, l *ledger.Ledger, b *bus.Bus, leaseDB *bbolt.DB) (*Scheduler, error) {
	if err := leaseDB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLeases)
		return err
	}); err != nil {
		return nil, fmt.Errorf("scheduler: create lease bucket: %w", err)
	}
	return &Scheduler{
		store: store, ledger: l, bus: b, leaseDB: leaseDB,
		leaseTTL: 30 * time.Second, ownerID: uuid.NewString(),
		PollInterval: time.Second, CoalesceDuplicates: true,
	}, nil
}

// Run polls until ctx is cancelled. Intended to be run in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	jobs, err := s.store.ListEnabledScheduledJobs(ctx)
	if err != nil {
		logging.Warn("scheduler: list enabled scheduled jobs: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, sj := range jobs {
		if sj.NextRunAt == nil || sj.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, sj, now)
	}
}

// Seed assigns an initial NextRunAt to any enabled ScheduledJob that lacks
// one (new jobs, or jobs just re-enabled by the control plane).
func (s *Scheduler) Seed(ctx context.Context) error {
	jobs, err := s.store.ListEnabledScheduledJobs(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, sj := range jobs {
		if sj.NextRunAt != nil {
			continue
		}
		next, err := NextRun(sj, now)
		if err != nil {
			logging.Warn("scheduler: seed next run for %s: %v", sj.ID, err)
			continue
		}
		if err := s.store.SetScheduledJobNextRun(ctx, sj.ID, &next); err != nil {
			return fmt.Errorf("scheduler: seed %s: %w", sj.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sj catalog.ScheduledJob, now time.Time) {
	acquired, err := s.acquireLease(sj.ID, now)
	if err != nil {
		logging.Warn("scheduler: acquire lease for %s: %v", sj.ID, err)
		return
	}
	if !acquired {
		return
	}

	kind := ledger.Kind(sj.TargetKind)
	topic, ok := topicForKind[kind]
	if !ok {
		logging.Warn("scheduler: scheduled job %s has unsupported targetKind %q", sj.ID, sj.TargetKind)
		s.advance(ctx, sj, now)
		return
	}

	targetID := dedupeTargetID(sj)
	if s.CoalesceDuplicates {
		if existing, found, err := s.ledger.FindNonTerminalByTarget(ctx, kind, targetID); err != nil {
			logging.Warn("scheduler: coalesce check for %s: %v", sj.ID, err)
			return
		} else if found {
			_ = existing
			metrics.SchedulerFiringsTotal.WithLabelValues("coalesced").Inc()
			if err := s.store.RecordScheduledJobCoalesced(ctx, sj.ID, now); err != nil {
				logging.Warn("scheduler: record coalesced for %s: %v", sj.ID, err)
			}
			s.advance(ctx, sj, now)
			return
		}
	}

	payload, jobID, parentJobID, err := s.buildMessage(ctx, sj, kind, targetID)
	if err != nil {
		logging.Warn("scheduler: build message for %s: %v", sj.ID, err)
		metrics.SchedulerFiringsTotal.WithLabelValues("build_error").Inc()
		return
	}

	if err := s.bus.Publish(topic, bus.Message{JobID: jobID, ParentJobID: parentJobID, Payload: payload}); err != nil {
		logging.Warn("scheduler: publish %s: %v", sj.ID, err)
		metrics.SchedulerFiringsTotal.WithLabelValues("publish_error").Inc()
		return
	}

	metrics.SchedulerFiringsTotal.WithLabelValues("fired").Inc()
	if err := s.store.RecordScheduledJobFired(ctx, sj.ID, now); err != nil {
		logging.Warn("scheduler: record fired for %s: %v", sj.ID, err)
	}
	s.advance(ctx, sj, now)
}

func (s *Scheduler) advance(ctx context.Context, sj catalog.ScheduledJob, firedAt time.Time) {
	switch sj.ScheduleType {
	case catalog.ScheduleOnce:
		if err := s.store.SetScheduledJobEnabled(ctx, sj.ID, false); err != nil {
			logging.Warn("scheduler: disable one-shot %s: %v", sj.ID, err)
		}
		return
	case catalog.ScheduleManual:
		return
	}
	next, err := NextRun(sj, firedAt)
	if err != nil {
		logging.Warn("scheduler: compute next run for %s: %v", sj.ID, err)
		return
	}
	if err := s.store.SetScheduledJobNextRun(ctx, sj.ID, &next); err != nil {
		logging.Warn("scheduler: set next run for %s: %v", sj.ID, err)
	}
}

// NextRun computes the next due time strictly after from, per sj's
// ScheduleType. Cron and Interval both naturally skip any slots missed
// while the scheduler was down, rather than catching them up.
func NextRun(sj catalog.ScheduledJob, from time.Time) (time.Time, error) {
	switch sj.ScheduleType {
	case catalog.ScheduleCron:
		schedule, err := cron.ParseStandard(sj.CronSpec)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron spec %q: %w", sj.CronSpec, err)
		}
		return schedule.Next(from), nil
	case catalog.ScheduleInterval:
		if sj.IntervalSecs <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule requires positive intervalSecs")
		}
		return from.Add(time.Duration(sj.IntervalSecs) * time.Second), nil
	case catalog.ScheduleOnce:
		return from, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule type %q", sj.ScheduleType)
	}
}

// dedupeTargetID extracts the Job Ledger target id a ScheduledJob's firing
// should be coalesced against. BulkOperation has no single natural target
// (it fans out over many collections), so it dedupes against the
// ScheduledJob itself: two firings of the same recurring bulk job never
// overlap, but distinct scheduled bulk jobs never block each other.
func dedupeTargetID(sj catalog.ScheduledJob) string {
	switch ledger.Kind(sj.TargetKind) {
	case ledger.KindLibraryScan:
		if v, ok := sj.Parameters["libraryId"].(string); ok && v != "" {
			return v
		}
	case ledger.KindCollectionScan:
		if v, ok := sj.Parameters["collectionId"].(string); ok && v != "" {
			return v
		}
	}
	return "scheduled:" + sj.ID
}

// buildMessage prepares the bus payload and, for kinds whose worker does not
// self-manage a parent Job Ledger entry, creates that entry here.
//
// LibraryScan is special: scancoord.Coordinator.BeginLibraryScan creates and
// coalesces its own Job Ledger entry, so the published message carries no
// JobID at all. CollectionScan and BulkOperation workers only bump progress
// on a JobID/ParentJobID handed to them, so the Scheduler must create that
// job itself before publishing.
func (s *Scheduler) buildMessage(ctx context.Context, sj catalog.ScheduledJob, kind ledger.Kind, targetID string) (map[string]any, string, string, error) {
	payload := cloneParams(sj.Parameters)

	switch kind {
	case ledger.KindLibraryScan:
		payload["libraryId"] = targetID
		return payload, "", "", nil

	case ledger.KindCollectionScan:
		payload["collectionId"] = targetID
		job, err := s.ledger.Create(ctx, ledger.Job{Kind: ledger.KindCollectionScan, TargetID: targetID, Parameters: sj.Parameters})
		if err != nil {
			return nil, "", "", err
		}
		return payload, job.ID, "", nil

	case ledger.KindBulkOperation:
		job, err := s.ledger.Create(ctx, ledger.Job{Kind: ledger.KindBulkOperation, TargetID: targetID, Parameters: sj.Parameters})
		if err != nil {
			return nil, "", "", err
		}
		return payload, job.ID, job.ID, nil

	default:
		return nil, "", "", fmt.Errorf("unsupported target kind %q", kind)
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// acquireLease claims scheduler:{jobId} if unheld or expired. The lease
// database is assumed to live on storage shared by every Scheduler instance
// guarding the same ScheduledJob set; a lease file local to one process
// only protects against that process's own concurrent goroutines.
func (s *Scheduler) acquireLease(jobID string, now time.Time) (bool, error) {
	acquired := false
	err := s.leaseDB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		key := []byte("scheduler:" + jobID)
		if raw := b.Get(key); raw != nil {
			var rec leaseRecord
			if err := json.Unmarshal(raw, &rec); err == nil {
				if rec.Owner != s.ownerID && rec.ExpiresAt.After(now) {
					return nil
				}
			}
		}
		rec := leaseRecord{Owner: s.ownerID, ExpiresAt: now.Add(s.leaseTTL)}
		blob, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		acquired = true
		return b.Put(key, blob)
	})
	if err != nil {
		return false, err
	}
	if acquired {
		metrics.SchedulerLeaseHeld.Set(1)
	}
	return acquired, nil
}
