package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"catalogpipe/internal/catalog"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"

	"github.com/google/btree"
)

// SortKey names one of the five attributes a sorted-set dimension is keyed
// on.
type SortKey string

const (
	SortUpdatedAt   SortKey = "updatedAt"
	SortCreatedAt   SortKey = "createdAt"
	SortDisplayName SortKey = "displayName"
	SortImageCount  SortKey = "imageCount"
	SortTotalBytes  SortKey = "totalBytes"
)

// Direction is a sorted-set traversal order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter narrows ListPage/Position/Siblings to one secondary index. A zero
// Filter means "no narrowing, use the global dimension". LibraryID takes
// priority over Kind when both are set.
type Filter struct {
	LibraryID string
	Kind      mediatypes.CollectionKind
}

// Entry is the Ordered Collection Index's summary projection of a
// Collection.
type Entry struct {
	ID               string
	LibraryID        string
	Kind             mediatypes.CollectionKind
	DisplayName      string
	ImageCount       int
	TotalBytes       int64
	UpdatedAt        time.Time
	CreatedAt        time.Time
	ThumbnailPreview []byte
}

// ErrNotFound is returned when a collection id has no index entry.
var ErrNotFound = errors.New("index: entry not found")

// ErrRebuildInProgress is returned by Rebuild when another rebuild is
// already running; at most one rebuild may be in flight at a time.
var ErrRebuildInProgress = errors.New("index: rebuild already in progress")

type catalogStore interface {
	ListAllCollections(ctx context.Context) ([]catalog.Collection, error)
	CountActiveCollections(ctx context.Context) (int, error)
}

// Index is the in-process Ordered Collection Index: ten google/btree
// sorted sets (one per SortKey x Direction) plus per-library and per-kind
// secondary dimensions, snapshotted to bbolt so a restart doesn't require
// a full Rebuild from the Catalog Store.
type Index struct {
	store          catalogStore
	db             *bbolt.DB
	thresholdRatio float64

	mu        sync.RWMutex
	global    map[string]*btree.BTreeG[Entry]
	byLibrary map[string]map[string]*btree.BTreeG[Entry]
	byKind    map[string]map[string]*btree.BTreeG[Entry]
	entries   map[string]Entry
	valid     bool

	rebuilding atomic.Bool
}

var bucketEntries = []byte("idx:entry")
var bucketMeta = []byte("idx:meta")

var allSortKeys = []SortKey{SortUpdatedAt, SortCreatedAt, SortDisplayName, SortImageCount, SortTotalBytes}
var allDirections = []Direction{Asc, Desc}

const btreeDegree = 32

// Open loads (or creates) the bbolt-backed snapshot at path and returns a
// ready Index. If the snapshot is absent, empty, or its entry count
// diverges from the catalog's active-collection count by more than
// thresholdRatioPercent, a background Rebuild is started; callers are
// never blocked on it (IsValid reports false until it completes).
func Open(ctx context.Context, store catalogStore, path string, thresholdRatioPercent float64) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		store:          store,
		db:             db,
		thresholdRatio: thresholdRatioPercent / 100,
	}
	idx.resetTrees()

	loaded, err := idx.loadSnapshot()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	idx.valid = loaded > 0

	catalogCount, err := store.CountActiveCollections(ctx)
	if err == nil && idx.diverged(loaded, catalogCount) {
		metrics.IndexDivergenceDetectedTotal.Inc()
		idx.valid = false
		go func() {
			if err := idx.Rebuild(context.Background()); err != nil {
				logging.Warn("index: background rebuild failed: %v", err)
			}
		}()
	}

	return idx, nil
}

// Close closes the underlying bbolt database.
func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) diverged(indexed, catalogCount int) bool {
	if catalogCount == 0 {
		return indexed != 0
	}
	diff := catalogCount - indexed
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(catalogCount) > idx.thresholdRatio
}

func (idx *Index) resetTrees() {
	idx.global = make(map[string]*btree.BTreeG[Entry])
	for _, sk := range allSortKeys {
		for _, dir := range allDirections {
			idx.global[dimKey(sk, dir)] = newTree(sk, dir)
		}
	}
	idx.byLibrary = make(map[string]map[string]*btree.BTreeG[Entry])
	idx.byKind = make(map[string]map[string]*btree.BTreeG[Entry])
	idx.entries = make(map[string]Entry)
}

func dimKey(sk SortKey, dir Direction) string { return string(sk) + ":" + string(dir) }

func newTree(sk SortKey, dir Direction) *btree.BTreeG[Entry] {
	return btree.NewG(btreeDegree, lessFunc(sk, dir))
}

func lessFunc(sk SortKey, dir Direction) btree.LessFunc[Entry] {
	cmp := fieldLess(sk)
	if dir == Asc {
		return func(a, b Entry) bool {
			if lt, gt := cmp(a, b); lt || gt {
				return lt
			}
			return a.ID < b.ID
		}
	}
	return func(a, b Entry) bool {
		if lt, gt := cmp(a, b); lt || gt {
			return gt
		}
		return a.ID < b.ID
	}
}

// fieldLess returns (a<b, a>b) for the given sort key, so callers needing
// descending order can swap which side wins without re-deriving the
// comparison from scratch.
func fieldLess(sk SortKey) func(a, b Entry) (lt, gt bool) {
	switch sk {
	case SortCreatedAt:
		return func(a, b Entry) (bool, bool) { return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.After(b.CreatedAt) }
	case SortDisplayName:
		return func(a, b Entry) (bool, bool) { return a.DisplayName < b.DisplayName, a.DisplayName > b.DisplayName }
	case SortImageCount:
		return func(a, b Entry) (bool, bool) { return a.ImageCount < b.ImageCount, a.ImageCount > b.ImageCount }
	case SortTotalBytes:
		return func(a, b Entry) (bool, bool) { return a.TotalBytes < b.TotalBytes, a.TotalBytes > b.TotalBytes }
	default: // SortUpdatedAt
		return func(a, b Entry) (bool, bool) { return a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.After(b.UpdatedAt) }
	}
}

func (idx *Index) treeFor(sk SortKey, dir Direction, f Filter) *btree.BTreeG[Entry] {
	key := dimKey(sk, dir)
	if f.LibraryID != "" {
		sub, ok := idx.byLibrary[f.LibraryID]
		if !ok {
			return nil
		}
		return sub[key]
	}
	if f.Kind != "" {
		sub, ok := idx.byKind[string(f.Kind)]
		if !ok {
			return nil
		}
		return sub[key]
	}
	return idx.global[key]
}

func (idx *Index) ensureSecondary(libraryID string, kind mediatypes.CollectionKind) {
	if _, ok := idx.byLibrary[libraryID]; !ok {
		m := make(map[string]*btree.BTreeG[Entry])
		for _, sk := range allSortKeys {
			for _, dir := range allDirections {
				m[dimKey(sk, dir)] = newTree(sk, dir)
			}
		}
		idx.byLibrary[libraryID] = m
	}
	if _, ok := idx.byKind[string(kind)]; !ok {
		m := make(map[string]*btree.BTreeG[Entry])
		for _, sk := range allSortKeys {
			for _, dir := range allDirections {
				m[dimKey(sk, dir)] = newTree(sk, dir)
			}
		}
		idx.byKind[string(kind)] = m
	}
}

func (idx *Index) insertAll(e Entry) {
	idx.ensureSecondary(e.LibraryID, e.Kind)
	for _, sk := range allSortKeys {
		for _, dir := range allDirections {
			key := dimKey(sk, dir)
			idx.global[key].ReplaceOrInsert(e)
			idx.byLibrary[e.LibraryID][key].ReplaceOrInsert(e)
			idx.byKind[string(e.Kind)][key].ReplaceOrInsert(e)
		}
	}
}

func (idx *Index) deleteAll(e Entry) {
	for _, sk := range allSortKeys {
		for _, dir := range allDirections {
			key := dimKey(sk, dir)
			idx.global[key].Delete(e)
			if sub, ok := idx.byLibrary[e.LibraryID]; ok {
				sub[key].Delete(e)
			}
			if sub, ok := idx.byKind[string(e.Kind)]; ok {
				sub[key].Delete(e)
			}
		}
	}
}

// UpsertEntry inserts or replaces entry across every sorted-set dimension
// and the entry map within a single write lock, so every sorted set and
// secondary index updates in one atomic batch. The bbolt write follows
// after the lock is released.
func (idx *Index) UpsertEntry(entry Entry) error {
	idx.mu.Lock()
	if old, ok := idx.entries[entry.ID]; ok {
		idx.deleteAll(old)
	}
	idx.insertAll(entry)
	idx.entries[entry.ID] = entry
	count := len(idx.entries)
	idx.mu.Unlock()

	for _, sk := range allSortKeys {
		metrics.IndexEntryCount.WithLabelValues(string(sk)).Set(float64(count))
	}
	return idx.persistEntry(entry, count)
}

// RemoveEntry deletes a collection's entry from every dimension it
// participates in. Removing an id that isn't indexed is a no-op.
func (idx *Index) RemoveEntry(id string) error {
	idx.mu.Lock()
	old, ok := idx.entries[id]
	if !ok {
		idx.mu.Unlock()
		return nil
	}
	idx.deleteAll(old)
	delete(idx.entries, id)
	count := len(idx.entries)
	idx.mu.Unlock()

	return idx.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Delete([]byte(id)); err != nil {
			return err
		}
		return putCount(tx, count)
	})
}

// ListPage walks the requested dimension's sorted set in order, returning
// up to pageSize entries starting at offset plus the dimension's total
// count. The entries come straight from the tree walk.
func (idx *Index) ListPage(sortKey SortKey, dir Direction, f Filter, offset, pageSize int) ([]Entry, int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tree := idx.treeFor(sortKey, dir, f)
	if tree == nil {
		return nil, 0, nil
	}
	total := tree.Len()
	if offset < 0 {
		offset = 0
	}
	if offset >= total || pageSize <= 0 {
		return nil, total, nil
	}

	out := make([]Entry, 0, pageSize)
	i := 0
	tree.Ascend(func(e Entry) bool {
		if i >= offset && len(out) < pageSize {
			out = append(out, e)
		}
		i++
		return len(out) < pageSize
	})
	return out, total, nil
}

// Position returns the zero-based rank of collectionID within the
// requested dimension, and the dimension's total count.
func (idx *Index) Position(collectionID string, sortKey SortKey, dir Direction, f Filter) (int, int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[collectionID]
	if !ok {
		return 0, 0, ErrNotFound
	}
	tree := idx.treeFor(sortKey, dir, f)
	if tree == nil {
		return 0, 0, ErrNotFound
	}
	total := tree.Len()

	rank := 0
	found := false
	tree.Ascend(func(e Entry) bool {
		if e.ID == entry.ID {
			found = true
			return false
		}
		rank++
		return true
	})
	if !found {
		return 0, total, ErrNotFound
	}
	return rank, total, nil
}

// Siblings returns the entries within radius positions of collectionID in
// the requested dimension, clamped to the dimension's bounds, plus the
// focus's own rank and the dimension total.
func (idx *Index) Siblings(collectionID string, radius int, sortKey SortKey, dir Direction, f Filter) ([]Entry, int, int, error) {
	rank, total, err := idx.Position(collectionID, sortKey, dir, f)
	if err != nil {
		return nil, 0, 0, err
	}
	if total == 0 {
		return nil, rank, total, nil
	}

	lo := rank - radius
	if lo < 0 {
		lo = 0
	}
	hi := rank + radius
	if hi > total-1 {
		hi = total - 1
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tree := idx.treeFor(sortKey, dir, f)
	if tree == nil {
		return nil, rank, total, ErrNotFound
	}

	out := make([]Entry, 0, hi-lo+1)
	i := 0
	tree.Ascend(func(e Entry) bool {
		if i >= lo && i <= hi {
			out = append(out, e)
		}
		i++
		return i <= hi
	})
	return out, rank, total, nil
}

// IsValid reports whether the index currently reflects the Catalog Store
// closely enough for readers to trust it over a direct catalog query.
func (idx *Index) IsValid() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.valid
}

// Rebuild fully reconstructs the index from the Catalog Store. At most one
// rebuild runs at a time; a concurrent call returns ErrRebuildInProgress.
// Readers are never blocked: the old index stays live until the new one is
// built, then the swap happens under a single write lock.
func (idx *Index) Rebuild(ctx context.Context) error {
	if !idx.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	defer idx.rebuilding.Store(false)

	start := time.Now()
	cols, err := idx.store.ListAllCollections(ctx)
	if err != nil {
		return fmt.Errorf("index rebuild: %w", err)
	}

	fresh := &Index{thresholdRatio: idx.thresholdRatio}
	fresh.resetTrees()
	for _, c := range cols {
		e := toEntry(c)
		fresh.insertAll(e)
		fresh.entries[e.ID] = e
	}

	idx.mu.Lock()
	idx.global = fresh.global
	idx.byLibrary = fresh.byLibrary
	idx.byKind = fresh.byKind
	idx.entries = fresh.entries
	idx.valid = true
	idx.mu.Unlock()

	metrics.IndexRebuildsTotal.Inc()
	metrics.IndexRebuildDuration.Observe(time.Since(start).Seconds())
	for _, sk := range allSortKeys {
		metrics.IndexEntryCount.WithLabelValues(string(sk)).Set(float64(len(cols)))
	}

	return idx.persistSnapshot()
}

// toEntry projects a Collection into its IndexEntry summary.
// ThumbnailPreview carries the winning thumbnail's path and dimensions
// rather than its encoded bytes: the Derivative Engine already materializes
// that file on disk, and re-embedding pixel data in the index would
// duplicate storage for no latency benefit list callers actually need.
func toEntry(c catalog.Collection) Entry {
	e := Entry{
		ID:          c.ID,
		LibraryID:   c.LibraryID,
		Kind:        c.Kind,
		DisplayName: c.DisplayName,
		ImageCount:  c.Statistics.MediaCount,
		TotalBytes:  c.Statistics.TotalBytes,
		UpdatedAt:   c.UpdatedAt,
		CreatedAt:   c.CreatedAt,
	}
	if len(c.Thumbnails) > 0 {
		t := c.Thumbnails[0]
		preview, err := json.Marshal(struct {
			Path   string `json:"path"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		}{t.Path, t.Width, t.Height})
		if err == nil {
			e.ThumbnailPreview = preview
		}
	}
	return e
}

// EntryFromCollection exposes toEntry for Worker Consumers and the Scan
// Coordinator, which upsert the index immediately after each authoritative
// Catalog Store write so index updates observe the same order as
// authoritative writes.
func EntryFromCollection(c catalog.Collection) Entry { return toEntry(c) }

func (idx *Index) persistEntry(e Entry, count int) error {
	blob, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return idx.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Put([]byte(e.ID), blob); err != nil {
			return err
		}
		return putCount(tx, count)
	})
}

func (idx *Index) persistSnapshot() error {
	idx.mu.RLock()
	entries := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		entries = append(entries, e)
	}
	idx.mu.RUnlock()

	return idx.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		for _, e := range entries {
			blob, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(e.ID), blob); err != nil {
				return err
			}
		}
		return putCount(tx, len(entries))
	})
}

func (idx *Index) loadSnapshot() (int, error) {
	loaded := 0
	err := idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			idx.insertAll(e)
			idx.entries[e.ID] = e
			loaded++
			return nil
		})
	})
	return loaded, err
}

func putCount(tx *bbolt.Tx, n int) error {
	blob, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put([]byte("count"), blob)
}
