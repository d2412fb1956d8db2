package stage

import (
	"context"
	"fmt"

	"catalogpipe/internal/bulkop"
	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/collectionscan"
	"catalogpipe/internal/derivative"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/scancoord"
	"catalogpipe/internal/worker"
	"catalogpipe/internal/workers"
)

// catalogStore is the narrow lookup surface stage handlers need beyond
// what each domain package already takes for itself.
type catalogStore interface {
	GetCollection(ctx context.Context, id string) (catalog.Collection, error)
	GetLibrary(ctx context.Context, id string) (catalog.Library, error)
}

// memoryGate lets a stage's consumer pause dispatch under memory pressure.
type memoryGate interface {
	WaitIfPaused() bool
}

// Deps bundles everything the five stage constructors need. Not every
// field is required by every constructor.
type Deps struct {
	Store       catalogStore
	Ledger      *ledger.Ledger
	Bus         *bus.Bus
	Memory      memoryGate
	ScanCoord   *scancoord.Coordinator
	Collections *collectionscan.Worker
	Derivatives *derivative.Engine
	BulkOps     *bulkop.Worker

	// Concurrency overrides the computed pool size per topic, if set
	// (0 means "use the computed default").
	Concurrency map[string]int
}

func (d Deps) concurrencyFor(topic string, computed int) int {
	if n, ok := d.Concurrency[topic]; ok && n > 0 {
		return n
	}
	return computed
}

// NewLibraryScanConsumer handles library.scan messages by driving
// scancoord.Coordinator.BeginLibraryScan to completion. The coordinator
// manages its own Job Ledger entry, so these messages carry no JobID.
func NewLibraryScanConsumer(d Deps) *worker.Consumer {
	handler := func(ctx context.Context, msg bus.Message) error {
		libraryID, _ := msg.Payload["libraryId"].(string)
		if libraryID == "" {
			return fmt.Errorf("stage: library.scan message missing libraryId")
		}
		force, _ := msg.Payload["force"].(bool)
		_, err := d.ScanCoord.BeginLibraryScan(ctx, libraryID, force)
		return err
	}
	return &worker.Consumer{
		Topic: bus.TopicLibraryScan, Handler: handler, Bus: d.Bus, Ledger: d.Ledger,
		Concurrency: d.concurrencyFor(bus.TopicLibraryScan, workers.ForIO(4)),
		Memory:      d.Memory,
	}
}

// NewCollectionScanConsumer handles collection.scan messages by invoking
// collectionscan.Worker.Scan.
func NewCollectionScanConsumer(d Deps) *worker.Consumer {
	handler := func(ctx context.Context, msg bus.Message) error {
		collectionID, _ := msg.Payload["collectionId"].(string)
		if collectionID == "" {
			return fmt.Errorf("stage: collection.scan message missing collectionId")
		}
		force, _ := msg.Payload["force"].(bool)
		_, err := d.Collections.Scan(ctx, collectionscan.Request{
			CollectionID: collectionID, ParentJobID: msg.ParentJobID, Force: force,
		})
		return err
	}
	return &worker.Consumer{
		Topic: bus.TopicCollectionScan, Handler: handler, Bus: d.Bus, Ledger: d.Ledger,
		Concurrency: d.concurrencyFor(bus.TopicCollectionScan, workers.ForIO(8)),
		Memory:      d.Memory,
	}
}

// NewThumbnailConsumer handles thumbnail.generate messages.
func NewThumbnailConsumer(d Deps) *worker.Consumer {
	return newDerivativeConsumer(d, bus.TopicThumbnail, derivative.PresetThumbnail)
}

// NewCacheConsumer handles cache.generate messages.
func NewCacheConsumer(d Deps) *worker.Consumer {
	return newDerivativeConsumer(d, bus.TopicCache, derivative.PresetCache)
}

func newDerivativeConsumer(d Deps, topic string, preset derivative.PresetName) *worker.Consumer {
	handler := func(ctx context.Context, msg bus.Message) error {
		req, err := buildDerivativeRequest(ctx, d.Store, msg.Payload, preset)
		if err != nil {
			return err
		}
		_, err = d.Derivatives.Process(ctx, req)
		return err
	}
	return &worker.Consumer{
		Topic: topic, Handler: handler, Bus: d.Bus, Ledger: d.Ledger,
		Concurrency: d.concurrencyFor(topic, workers.ForCPU(4)),
		Memory:      d.Memory,
	}
}

// NewBulkOperationConsumer handles bulk.operation messages by invoking
// bulkop.Worker.Run. The worker hangs its child jobs under the message's
// ParentJobID; the Scheduler publishes bulk-operation messages with its
// BulkOperation job as both JobID and ParentJobID.
func NewBulkOperationConsumer(d Deps) *worker.Consumer {
	handler := func(ctx context.Context, msg bus.Message) error {
		req, err := buildBulkRequest(msg)
		if err != nil {
			return err
		}
		_, err = d.BulkOps.Run(ctx, req)
		return err
	}
	return &worker.Consumer{
		Topic: bus.TopicBulkOperation, Handler: handler, Bus: d.Bus, Ledger: d.Ledger,
		Concurrency: d.concurrencyFor(bus.TopicBulkOperation, 1),
		Memory:      d.Memory,
	}
}

func buildBulkRequest(msg bus.Message) (bulkop.Request, error) {
	op, _ := msg.Payload["operation"].(string)
	if op == "" {
		return bulkop.Request{}, fmt.Errorf("stage: bulk.operation message missing operation")
	}
	raw, _ := msg.Payload["targetCollectionIds"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return bulkop.Request{
		ParentJobID: msg.ParentJobID, Operation: bulkop.Operation(op), TargetCollectionIDs: ids,
	}, nil
}

func buildDerivativeRequest(ctx context.Context, store catalogStore, payload map[string]any, preset derivative.PresetName) (derivative.Request, error) {
	collectionID, _ := payload["collectionId"].(string)
	mediaItemID, _ := payload["mediaItemId"].(string)
	if collectionID == "" || mediaItemID == "" {
		return derivative.Request{}, fmt.Errorf("stage: derivative message missing collectionId/mediaItemId")
	}

	coll, err := store.GetCollection(ctx, collectionID)
	if err != nil {
		return derivative.Request{}, err
	}
	item, ok := findMediaItem(coll, mediaItemID)
	if !ok {
		return derivative.Request{}, fmt.Errorf("stage: media item %s not found in collection %s", mediaItemID, collectionID)
	}

	lib, err := store.GetLibrary(ctx, coll.LibraryID)
	if err != nil {
		return derivative.Request{}, err
	}

	var source derivative.SourceLocator
	if filePath, ok := payload["filePath"].(string); ok && filePath != "" {
		source.FilePath = filePath
	} else {
		archivePath, _ := payload["archivePath"].(string)
		archiveEntry, _ := payload["archiveEntry"].(string)
		archiveKind, _ := payload["archiveKind"].(string)
		source = derivative.SourceLocator{
			ArchivePath: archivePath, ArchiveEntry: archiveEntry,
			ArchiveKind: mediatypes.CollectionKind(archiveKind),
		}
	}

	params := mediatypes.DefaultThumbnailPreset()
	if preset == derivative.PresetCache {
		params = mediatypes.DefaultCachePreset()
	}
	if lib.Settings.ThumbnailPreset.Width > 0 && preset == derivative.PresetThumbnail {
		params = lib.Settings.ThumbnailPreset
	}
	if lib.Settings.CachePreset.Width > 0 && preset == derivative.PresetCache {
		params = lib.Settings.CachePreset
	}

	return derivative.Request{
		CollectionID: collectionID, MediaItemID: mediaItemID, Source: source,
		MediaKind: item.Kind, Preset: preset, Params: params,
	}, nil
}

func findMediaItem(coll catalog.Collection, id string) (catalog.MediaItem, bool) {
	for _, it := range coll.MediaItems {
		if it.ID == id {
			return it, true
		}
	}
	return catalog.MediaItem{}, false
}
