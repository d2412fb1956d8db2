package collectionscan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalogpipe/internal/archive"
	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"
	"catalogpipe/internal/walker"
)

// catalogStore is the narrow catalog surface the worker needs.
type catalogStore interface {
	GetCollection(ctx context.Context, id string) (catalog.Collection, error)
	UpdateCollection(ctx context.Context, c catalog.Collection) (catalog.Collection, error)
}

// Request is one unit of collection-scan work.
type Request struct {
	CollectionID string
	// ParentJobID is the parent of this scan's own job (the LibraryScan or
	// BulkOperation job that published it). It becomes the ParentJobID of
	// the per-item Thumbnail/Cache jobs this scan fans out, and its total
	// grows by their count.
	ParentJobID string
	Force       bool
}

// Result summarizes one scan's reconciliation outcome.
type Result struct {
	Added      int
	Removed    int
	Changed    int
	Unchanged  int
	Mutated    bool // whether the Collection document was written
}

// Worker is the Collection Scan Worker.
type Worker struct {
	store    catalogStore
	archives *archive.Pool
	ledger   *ledger.Ledger
	bus      *bus.Bus
}

// New creates a Worker.
func New(store catalogStore, archives *archive.Pool, l *ledger.Ledger, b *bus.Bus) *Worker {
	return &Worker{store: store, archives: archives, ledger: l, bus: b}
}

type scannedItem struct {
	relativePath   string
	normalizedPath string
	size           int64
	modTimeUnix    int64 // 0 for archive entries
	format         string
	kind           mediatypes.Kind
	archiveEntry   string // set when the source is an archive entry
}

// Scan enumerates req's Collection, reconciles against its embedded media
// list, and writes back + fans out derivative work as needed.
func (w *Worker) Scan(ctx context.Context, req Request) (Result, error) {
	coll, err := w.store.GetCollection(ctx, req.CollectionID)
	if err != nil {
		return Result{}, err
	}

	scanned, err := w.enumerate(coll)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	defer func() {
		metrics.CollectionScanDuration.WithLabelValues(string(coll.Kind)).Observe(time.Since(start).Seconds())
	}()

	added, removed, changed, unchanged, newItems := reconcile(coll.MediaItems, scanned)

	if len(added) == 0 && len(removed) == 0 && len(changed) == 0 && !req.Force {
		metrics.CollectionScansTotal.WithLabelValues("unchanged").Inc()
		return Result{Unchanged: unchanged, Mutated: false}, nil
	}

	toProcess := append(append([]catalog.MediaItem{}, added...), changed...)
	if req.Force {
		// A forced rescan regenerates derivatives for every surviving item,
		// not just the ones whose signature diverged.
		toProcess = newItems
	}

	directAccess := coll.Kind == mediatypes.CollectionDirectory && coll.Settings.UseDirectFileAccess
	thumbJobs, cacheJobs := 0, 0
	now := time.Now().UTC()

	for _, item := range toProcess {
		if directAccess {
			insertDirectDerivatives(&coll, item, now)
			continue
		}
		if err := w.fanOut(req, coll, item); err != nil {
			return Result{}, fmt.Errorf("fan out derivative work for %s: %w", item.ID, err)
		}
		thumbJobs++
		cacheJobs++
	}

	if req.ParentJobID != "" && (thumbJobs > 0 || cacheJobs > 0) {
		if err := w.ledger.AddToParentTotal(ctx, req.ParentJobID, thumbJobs+cacheJobs); err != nil {
			return Result{}, fmt.Errorf("add parent total: %w", err)
		}
	}

	// Thumbnail and cache-image entries of items that are gone are dropped so
	// the counts below cover only still-present media.
	present := make(map[string]bool, len(newItems))
	for _, it := range newItems {
		present[it.ID] = true
	}
	coll.Thumbnails = slices.DeleteFunc(coll.Thumbnails, func(t catalog.ThumbnailEmbedded) bool { return !present[t.MediaItemID] })
	coll.CacheImages = slices.DeleteFunc(coll.CacheImages, func(c catalog.CacheImageEmbedded) bool { return !present[c.MediaItemID] })

	coll.MediaItems = newItems
	coll.Statistics.MediaCount = len(newItems)
	coll.Statistics.ThumbnailCount = len(coll.Thumbnails)
	coll.Statistics.CachedCount = len(coll.CacheImages)
	coll.Statistics.LastScanAt = now
	coll.Statistics.LastActivityAt = now

	for attempt := 0; attempt < 3; attempt++ {
		_, err = w.store.UpdateCollection(ctx, coll)
		if err == nil {
			break
		}
		if !errors.Is(err, catalog.ErrVersionConflict) {
			return Result{}, err
		}
		fresh, getErr := w.store.GetCollection(ctx, req.CollectionID)
		if getErr != nil {
			return Result{}, getErr
		}
		coll.Version = fresh.Version
	}
	if err != nil {
		return Result{}, err
	}

	metrics.CollectionScansTotal.WithLabelValues("reconciled").Inc()
	metrics.MediaItemsReconciled.WithLabelValues("added").Add(float64(len(added)))
	metrics.MediaItemsReconciled.WithLabelValues("removed").Add(float64(len(removed)))
	metrics.MediaItemsReconciled.WithLabelValues("unchanged").Add(float64(unchanged))

	return Result{
		Added: len(added), Removed: len(removed), Changed: len(changed),
		Unchanged: unchanged, Mutated: true,
	}, nil
}

func (w *Worker) enumerate(coll catalog.Collection) ([]scannedItem, error) {
	allowed := formatSet(coll.Settings.AllowedFormats)

	if coll.Kind == mediatypes.CollectionDirectory {
		files, err := walker.Walk(coll.Path, walker.Options{AllowedFormats: allowed})
		if err != nil {
			return nil, err
		}
		out := make([]scannedItem, 0, len(files))
		for _, f := range files {
			out = append(out, scannedItem{
				relativePath:   f.RelativePath,
				normalizedPath: normalizePath(f.RelativePath),
				size:           f.Size,
				modTimeUnix:    f.ModTime,
				format:         extFormat(f.RelativePath),
				kind:           f.Kind,
			})
		}
		return out, nil
	}

	r, err := w.archives.Acquire(coll.Path, coll.Kind)
	if err != nil {
		return nil, err
	}
	var out []scannedItem
	for _, e := range r.Entries() {
		ext := mediatypes.NormalizeExt(filepath.Ext(e.Name))
		k := mediatypes.KindOf(ext)
		if k == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[strings.TrimPrefix(ext, ".")] {
			continue
		}
		out = append(out, scannedItem{
			relativePath:   e.Name,
			normalizedPath: normalizePath(e.Name),
			size:           e.Size,
			format:         extFormat(e.Name),
			kind:           k,
			archiveEntry:   e.Name,
		})
	}
	return out, nil
}

func formatSet(formats []string) map[string]bool {
	if len(formats) == 0 {
		return nil
	}
	out := make(map[string]bool, len(formats))
	for _, f := range formats {
		out[strings.ToLower(f)] = true
	}
	return out
}

func normalizePath(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}

func extFormat(name string) string {
	return strings.TrimPrefix(mediatypes.NormalizeExt(filepath.Ext(name)), ".")
}

// reconcile computes the symmetric difference between existing and
// scanned items by normalizedPath, returning the
// added/removed/changed sub-slices, the unchanged count, and the full new
// MediaItems slice (unchanged + changed kept, removed dropped, added
// appended with insertionOrder = max+1).
func reconcile(existing []catalog.MediaItem, scanned []scannedItem) (added, removed, changed []catalog.MediaItem, unchanged int, newItems []catalog.MediaItem) {
	byPath := make(map[string]catalog.MediaItem, len(existing))
	for _, it := range existing {
		byPath[it.NormalizedPath] = it
	}
	scannedByPath := make(map[string]scannedItem, len(scanned))
	for _, s := range scanned {
		scannedByPath[s.normalizedPath] = s
	}

	maxOrder := 0
	for _, it := range existing {
		if it.InsertionOrder > maxOrder {
			maxOrder = it.InsertionOrder
		}
	}

	for _, it := range existing {
		s, ok := scannedByPath[it.NormalizedPath]
		if !ok {
			removed = append(removed, it)
			continue
		}
		if signatureDiverged(it, s) {
			updated := applyScanned(it, s)
			changed = append(changed, updated)
			newItems = append(newItems, updated)
			continue
		}
		unchanged++
		newItems = append(newItems, it)
	}

	// Stable order for newly discovered items.
	var freshNames []string
	for path := range scannedByPath {
		if _, ok := byPath[path]; !ok {
			freshNames = append(freshNames, path)
		}
	}
	sort.Strings(freshNames)

	for _, path := range freshNames {
		s := scannedByPath[path]
		maxOrder++
		item := catalog.MediaItem{
			ID:             uuid.NewString(),
			Filename:       filepath.Base(s.relativePath),
			RelativePath:   s.relativePath,
			NormalizedPath: s.normalizedPath,
			Format:         s.format,
			ByteSize:       s.size,
			Kind:           s.kind,
			InsertionOrder: maxOrder,
			Origin: catalog.OriginSignature{
				ArchiveEntry: s.archiveEntry,
				ModTimeUnix:  s.modTimeUnix,
				Size:         s.size,
				Fingerprint:  scannedFingerprint(s),
			},
		}
		added = append(added, item)
		newItems = append(newItems, item)
	}

	return added, removed, changed, unchanged, newItems
}

func signatureDiverged(existing catalog.MediaItem, s scannedItem) bool {
	return existing.Origin.Fingerprint != scannedFingerprint(s)
}

func scannedFingerprint(s scannedItem) uint64 {
	return catalog.NewOriginFingerprint(s.normalizedPath, s.size, s.modTimeUnix)
}

func applyScanned(existing catalog.MediaItem, s scannedItem) catalog.MediaItem {
	existing.ByteSize = s.size
	existing.Format = s.format
	existing.Origin.Size = s.size
	existing.Origin.ModTimeUnix = s.modTimeUnix
	existing.Origin.ArchiveEntry = s.archiveEntry
	existing.Origin.Fingerprint = scannedFingerprint(s)
	return existing
}

// insertDirectDerivatives synchronously registers direct-reference
// thumbnail/cache entries for useDirectFileAccess Directory collections,
// skipping the Thumbnail/Cache message fan-out entirely.
func insertDirectDerivatives(coll *catalog.Collection, item catalog.MediaItem, now time.Time) {
	path := filepath.Join(coll.Path, item.RelativePath)
	thumb := catalog.ThumbnailEmbedded{
		MediaItemID: item.ID, Preset: "thumbnail", Format: item.Format,
		Width: item.Width, Height: item.Height, Path: path, ByteSize: item.ByteSize,
		GeneratedAt: now, IsDirect: true,
	}
	cache := catalog.CacheImageEmbedded{
		MediaItemID: item.ID, Preset: "cache", Format: item.Format,
		Width: item.Width, Height: item.Height, Path: path, ByteSize: item.ByteSize,
		GeneratedAt: now, IsDirect: true,
	}
	coll.Thumbnails = upsertThumbnail(coll.Thumbnails, thumb)
	coll.CacheImages = upsertCacheImage(coll.CacheImages, cache)
}

func upsertThumbnail(list []catalog.ThumbnailEmbedded, entry catalog.ThumbnailEmbedded) []catalog.ThumbnailEmbedded {
	for i, t := range list {
		if t.MediaItemID == entry.MediaItemID && t.Preset == entry.Preset {
			list[i] = entry
			return list
		}
	}
	return append(list, entry)
}

func upsertCacheImage(list []catalog.CacheImageEmbedded, entry catalog.CacheImageEmbedded) []catalog.CacheImageEmbedded {
	for i, c := range list {
		if c.MediaItemID == entry.MediaItemID && c.Preset == entry.Preset {
			list[i] = entry
			return list
		}
	}
	return append(list, entry)
}

func (w *Worker) fanOut(req Request, coll catalog.Collection, item catalog.MediaItem) error {
	source := map[string]any{
		"collectionId": coll.ID,
		"mediaItemId":  item.ID,
	}
	if coll.Kind == mediatypes.CollectionDirectory {
		source["filePath"] = filepath.Join(coll.Path, item.RelativePath)
	} else {
		source["archivePath"] = coll.Path
		source["archiveEntry"] = item.Origin.ArchiveEntry
		source["archiveKind"] = string(coll.Kind)
	}

	thumbJob, err := w.ledger.Create(context.Background(), ledger.Job{
		Kind: ledger.KindThumbnail, ParentJobID: req.ParentJobID, TargetID: item.ID,
	})
	if err != nil {
		return err
	}
	thumbPayload := cloneMap(source)
	thumbPayload["preset"] = "thumbnail"
	if err := w.bus.Publish(bus.TopicThumbnail, bus.Message{
		ParentJobID: req.ParentJobID, JobID: thumbJob.ID, Payload: thumbPayload,
	}); err != nil {
		return err
	}

	cacheJob, err := w.ledger.Create(context.Background(), ledger.Job{
		Kind: ledger.KindCache, ParentJobID: req.ParentJobID, TargetID: item.ID,
	})
	if err != nil {
		return err
	}
	cachePayload := cloneMap(source)
	cachePayload["preset"] = "cache"
	return w.bus.Publish(bus.TopicCache, bus.Message{
		ParentJobID: req.ParentJobID, JobID: cacheJob.ID, Payload: cachePayload,
	})
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
