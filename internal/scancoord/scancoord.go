package scancoord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"
	"catalogpipe/internal/walker"
)

// catalogStore is the narrow catalog surface the coordinator needs.
type catalogStore interface {
	GetLibrary(ctx context.Context, id string) (catalog.Library, error)
	GetCollectionByPath(ctx context.Context, libraryID, path string) (catalog.Collection, error)
	FindCollectionPathOwner(ctx context.Context, path string) (libraryID string, found bool, err error)
	CreateCollection(ctx context.Context, c catalog.Collection) (catalog.Collection, error)
	TouchLibraryScan(ctx context.Context, id string, at time.Time) error
}

// Coordinator is the Scan Coordinator.
type Coordinator struct {
	store  catalogStore
	ledger *ledger.Ledger
	bus    *bus.Bus
}

// New creates a Coordinator.
func New(store catalogStore, l *ledger.Ledger, b *bus.Bus) *Coordinator {
	return &Coordinator{store: store, ledger: l, bus: b}
}

// BeginLibraryScan converts a LibraryScan request into a parent Job and a
// CollectionScan message per new-or-changed candidate collection. It
// coalesces into an existing non-terminal LibraryScan job for the same
// library rather than starting a second one.
func (c *Coordinator) BeginLibraryScan(ctx context.Context, libraryID string, force bool) (ledger.Job, error) {
	if existing, ok, err := c.ledger.FindNonTerminalByTarget(ctx, ledger.KindLibraryScan, libraryID); err != nil {
		return ledger.Job{}, err
	} else if ok {
		metrics.JobCoalescedTotal.WithLabelValues(string(ledger.KindLibraryScan)).Inc()
		return existing, nil
	}

	lib, err := c.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return ledger.Job{}, err
	}

	job, err := c.ledger.Create(ctx, ledger.Job{
		Kind:     ledger.KindLibraryScan,
		TargetID: libraryID,
		Parameters: map[string]any{"force": force},
	})
	if err != nil {
		return ledger.Job{}, err
	}
	if err := c.ledger.Start(ctx, job.ID); err != nil {
		return job, err
	}
	metrics.LibraryScansTotal.WithLabelValues("started").Inc()

	names, err := walker.WalkOneLevel(lib.RootPath, walker.Options{})
	if err != nil {
		_ = c.ledger.Fail(ctx, job.ID, fmt.Sprintf("walk root: %v", err))
		metrics.LibraryScansTotal.WithLabelValues("failed").Inc()
		return job, err
	}

	var failed, enqueued int
	for _, name := range names {
		candidatePath := filepath.Join(lib.RootPath, name)

		info, statErr := os.Stat(candidatePath)
		if statErr != nil {
			failed++
			logging.Warn("scancoord: stat candidate %s: %v", candidatePath, statErr)
			continue
		}
		kind := classifyCandidate(name, info)

		if owner, found, ownerErr := c.store.FindCollectionPathOwner(ctx, candidatePath); ownerErr != nil {
			failed++
			continue
		} else if found && owner != libraryID {
			failed++
			logging.Warn("scancoord: candidate %s already owned by library %s", candidatePath, owner)
			continue
		}

		existing, getErr := c.store.GetCollectionByPath(ctx, libraryID, candidatePath)
		if getErr != nil && !errors.Is(getErr, catalog.ErrNotFound) {
			failed++
			logging.Warn("scancoord: lookup collection for %s: %v", candidatePath, getErr)
			continue
		}
		if errors.Is(getErr, catalog.ErrNotFound) {
			coll, createErr := c.store.CreateCollection(ctx, catalog.Collection{
				LibraryID:   libraryID,
				DisplayName: name,
				Path:        candidatePath,
				Kind:        kind,
			})
			if createErr != nil {
				failed++
				logging.Warn("scancoord: create collection for %s: %v", candidatePath, createErr)
				continue
			}
			existing = coll
		} else if !force && !info.ModTime().After(existing.Statistics.LastScanAt) {
			continue // unchanged since last scan, not forced
		}

		if err := c.publishCollectionScan(job, existing.ID, force); err != nil {
			failed++
			logging.Warn("scancoord: publish collection scan for %s: %v", candidatePath, err)
			continue
		}
		enqueued++
	}

	if err := c.ledger.UpdateProgress(ctx, job.ID, ledger.Progress{Total: enqueued, Failed: failed}); err != nil {
		logging.Warn("scancoord: update progress for %s: %v", job.ID, err)
	}
	_ = c.store.TouchLibraryScan(ctx, libraryID, time.Now().UTC())

	if err := c.ledger.Complete(ctx, job.ID); err != nil {
		logging.Warn("scancoord: complete job %s: %v", job.ID, err)
	}
	metrics.LibraryScansTotal.WithLabelValues("completed").Inc()

	return c.refetch(ctx, job.ID)
}

func (c *Coordinator) refetch(ctx context.Context, id string) (ledger.Job, error) {
	return c.ledger.Get(ctx, id)
}

func (c *Coordinator) publishCollectionScan(parent ledger.Job, collectionID string, force bool) error {
	child, err := c.ledger.Create(context.Background(), ledger.Job{
		Kind:        ledger.KindCollectionScan,
		ParentJobID: parent.ID,
		TargetID:    collectionID,
		Parameters:  map[string]any{"force": force},
	})
	if err != nil {
		return err
	}

	return c.bus.Publish(bus.TopicCollectionScan, bus.Message{
		CorrelationID: parent.CorrelationID,
		ParentJobID:   parent.ID,
		ScanJobID:     parent.ID,
		JobID:         child.ID,
		Payload: map[string]any{
			"collectionId": collectionID,
			"force":        force,
		},
	})
}

// classifyCandidate determines whether a one-level entry (already filtered
// by walker.WalkOneLevel to directories and recognized archive files) is a
// Directory collection or an archive collection kind.
func classifyCandidate(name string, info os.FileInfo) mediatypes.CollectionKind {
	if info.IsDir() {
		return mediatypes.CollectionDirectory
	}
	ext := mediatypes.NormalizeExt(filepath.Ext(name))
	return mediatypes.KindOfArchive(ext)
}
