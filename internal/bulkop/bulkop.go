package bulkop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
)

// Operation is one of the four recognized bulk operations.
type Operation string

const (
	OpRescan               Operation = "rescan"
	OpRegenerateThumbnails Operation = "regenerateThumbnails"
	OpRegenerateCache      Operation = "regenerateCache"
	OpPurgeCache           Operation = "purgeCache"
)

var ErrUnknownOperation = errors.New("bulkop: unrecognized operation")

type catalogStore interface {
	GetCollection(ctx context.Context, id string) (catalog.Collection, error)
	UpdateCollection(ctx context.Context, c catalog.Collection) (catalog.Collection, error)
	AdjustCacheFolderBytes(ctx context.Context, id string, delta int64) (catalog.CacheFolder, error)
}

// Request is one BulkOperation job's parameters.
type Request struct {
	ParentJobID         string
	Operation           Operation
	TargetCollectionIDs []string
}

// Result summarizes a bulk run's per-target outcome counts.
type Result struct {
	Succeeded int
	Failed    int
}

// Worker is the Bulk Operation Worker.
type Worker struct {
	store  catalogStore
	ledger *ledger.Ledger
	bus    *bus.Bus
}

// New creates a Worker.
func New(store catalogStore, l *ledger.Ledger, b *bus.Bus) *Worker {
	return &Worker{store: store, ledger: l, bus: b}
}

// Run expands req into per-target child work, isolating failures on
// individual collection ids from the rest of the batch.
func (w *Worker) Run(ctx context.Context, req Request) (Result, error) {
	switch req.Operation {
	case OpRescan, OpRegenerateThumbnails, OpRegenerateCache, OpPurgeCache:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}

	var result Result
	var childJobs int
	for _, id := range req.TargetCollectionIDs {
		n, err := w.runOne(ctx, req, id)
		if err != nil {
			result.Failed++
			logging.Warn("bulkop: %s on collection %s: %v", req.Operation, id, err)
			continue
		}
		result.Succeeded++
		childJobs += n
	}

	if req.ParentJobID != "" && childJobs > 0 {
		if err := w.ledger.AddToParentTotal(ctx, req.ParentJobID, childJobs); err != nil {
			return result, fmt.Errorf("add parent total: %w", err)
		}
	}
	return result, nil
}

func (w *Worker) runOne(ctx context.Context, req Request, collectionID string) (int, error) {
	switch req.Operation {
	case OpRescan:
		return 1, w.publishCollectionScan(req, collectionID)
	case OpRegenerateThumbnails:
		return w.fanOutDerivative(ctx, req, collectionID, bus.TopicThumbnail, ledger.KindThumbnail, "thumbnail")
	case OpRegenerateCache:
		return w.fanOutDerivative(ctx, req, collectionID, bus.TopicCache, ledger.KindCache, "cache")
	case OpPurgeCache:
		return 0, w.purgeCache(ctx, collectionID)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
}

func (w *Worker) publishCollectionScan(req Request, collectionID string) error {
	child, err := w.ledger.Create(context.Background(), ledger.Job{
		Kind: ledger.KindCollectionScan, ParentJobID: req.ParentJobID, TargetID: collectionID,
		Parameters: map[string]any{"force": true},
	})
	if err != nil {
		return err
	}
	return w.bus.Publish(bus.TopicCollectionScan, bus.Message{
		ParentJobID: req.ParentJobID, JobID: child.ID,
		Payload: map[string]any{"collectionId": collectionID, "force": true},
	})
}

func (w *Worker) fanOutDerivative(ctx context.Context, req Request, collectionID, topic string, kind ledger.Kind, preset string) (int, error) {
	coll, err := w.store.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, item := range coll.MediaItems {
		source := map[string]any{"collectionId": coll.ID, "mediaItemId": item.ID, "preset": preset}
		if coll.Kind == mediatypes.CollectionDirectory {
			source["filePath"] = filepath.Join(coll.Path, item.RelativePath)
		} else {
			source["archivePath"] = coll.Path
			source["archiveEntry"] = item.Origin.ArchiveEntry
			source["archiveKind"] = string(coll.Kind)
		}

		child, err := w.ledger.Create(context.Background(), ledger.Job{
			Kind: kind, ParentJobID: req.ParentJobID, TargetID: item.ID,
		})
		if err != nil {
			return n, err
		}
		if err := w.bus.Publish(topic, bus.Message{
			ParentJobID: req.ParentJobID, JobID: child.ID, Payload: source,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// purgeCache releases the cache-folder bytes backing collectionID's
// CacheImage derivatives and drops them (and their bindings) from the
// Collection document, synchronously, with no child job.
func (w *Worker) purgeCache(ctx context.Context, collectionID string) error {
	var coll catalog.Collection
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		coll, err = w.store.GetCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		if len(coll.CacheImages) == 0 {
			return nil
		}

		byFolder := make(map[string]int64)
		bindings := make([]catalog.CacheBindingEmbedded, 0, len(coll.CacheBindings))
		for _, b := range coll.CacheBindings {
			if isCachePresetBinding(coll, b) {
				byFolder[b.CacheFolderID] += b.ByteSize
				continue
			}
			bindings = append(bindings, b)
		}

		coll.CacheImages = nil
		coll.CacheBindings = bindings
		coll.Statistics.CachedCount = 0
		coll.Statistics.LastActivityAt = time.Now().UTC()

		_, err = w.store.UpdateCollection(ctx, coll)
		if err == nil {
			for folderID, delta := range byFolder {
				if _, rerr := w.store.AdjustCacheFolderBytes(ctx, folderID, -delta); rerr != nil {
					logging.Warn("bulkop: release %d bytes from folder %s: %v", delta, folderID, rerr)
				}
			}
			return nil
		}
		if !errors.Is(err, catalog.ErrVersionConflict) {
			return err
		}
	}
	return err
}

func isCachePresetBinding(coll catalog.Collection, b catalog.CacheBindingEmbedded) bool {
	for _, img := range coll.CacheImages {
		if img.MediaItemID == b.MediaItemID && img.Preset == b.Preset {
			return true
		}
	}
	return false
}
