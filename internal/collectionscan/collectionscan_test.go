package collectionscan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"catalogpipe/internal/archive"
	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/mediatypes"
)

type testEnv struct {
	store  *catalog.Store
	l      *ledger.Ledger
	b      *bus.Bus
	worker *Worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(store.DB())
	if err := l.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	b, err := bus.Open(filepath.Join(dir, "bus.db"))
	if err != nil {
		t.Fatalf("bus.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	archives := archive.NewPool(4)
	t.Cleanup(func() { _ = archives.CloseAll() })

	return &testEnv{store: store, l: l, b: b, worker: New(store, archives, l, b)}
}

func mustMkCollection(t *testing.T, env *testEnv, root string) catalog.Collection {
	t.Helper()
	lib, err := env.store.CreateLibrary(context.Background(), catalog.Library{
		DisplayName: "lib", RootPath: filepath.Dir(root), Active: true,
	})
	if err != nil {
		t.Fatalf("CreateLibrary: %v", err)
	}
	coll, err := env.store.CreateCollection(context.Background(), catalog.Collection{
		LibraryID: lib.ID, DisplayName: "album", Path: root, Kind: mediatypes.CollectionDirectory,
	})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return coll
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScanDiscoversNewMediaItems(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 100)
	writeFile(t, filepath.Join(root, "b.jpg"), 200)
	coll := mustMkCollection(t, env, root)

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 2 {
		t.Fatalf("Added = %d, want 2", result.Added)
	}
	if !result.Mutated {
		t.Fatal("expected Mutated = true")
	}

	updated, err := env.store.GetCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if len(updated.MediaItems) != 2 {
		t.Fatalf("len(MediaItems) = %d, want 2", len(updated.MediaItems))
	}
	if updated.Statistics.MediaCount != 2 {
		t.Fatalf("Statistics.MediaCount = %d, want 2", updated.Statistics.MediaCount)
	}

	thumbDepth, _ := env.b.QueueDepth(bus.TopicThumbnail)
	cacheDepth, _ := env.b.QueueDepth(bus.TopicCache)
	if thumbDepth != 2 || cacheDepth != 2 {
		t.Fatalf("thumbDepth=%d cacheDepth=%d, want 2/2", thumbDepth, cacheDepth)
	}
}

func TestScanUnforcedNoChangeMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 100)
	coll := mustMkCollection(t, env, root)

	if _, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID}); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	before, err := env.store.GetCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID})
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if result.Mutated {
		t.Fatal("expected second unforced scan to not mutate")
	}
	if result.Unchanged != 1 {
		t.Fatalf("Unchanged = %d, want 1", result.Unchanged)
	}

	after, err := env.store.GetCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if after.Version != before.Version {
		t.Fatalf("Version changed from %d to %d on unforced no-op rescan", before.Version, after.Version)
	}
}

func TestScanRemovesMissingItems(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	path := filepath.Join(root, "a.jpg")
	writeFile(t, path, 100)
	coll := mustMkCollection(t, env, root)

	if _, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID}); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID})
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", result.Removed)
	}

	updated, err := env.store.GetCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if len(updated.MediaItems) != 0 {
		t.Fatalf("len(MediaItems) = %d, want 0", len(updated.MediaItems))
	}
}

func TestScanDetectsChangedSize(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	path := filepath.Join(root, "a.jpg")
	writeFile(t, path, 100)
	coll := mustMkCollection(t, env, root)

	if _, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID}); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	writeFile(t, path, 500)

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID})
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if result.Changed != 1 {
		t.Fatalf("Changed = %d, want 1", result.Changed)
	}

	thumbDepth, _ := env.b.QueueDepth(bus.TopicThumbnail)
	if thumbDepth != 2 { // one from the initial add, one from the re-detected change
		t.Fatalf("thumbDepth = %d, want 2", thumbDepth)
	}
}

func TestScanForceReprocessesUnchangedItems(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 100)
	coll := mustMkCollection(t, env, root)

	if _, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID}); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	for {
		d, err := env.b.Receive(bus.TopicThumbnail)
		if err != nil {
			break
		}
		_ = env.b.Ack(d)
	}
	for {
		d, err := env.b.Receive(bus.TopicCache)
		if err != nil {
			break
		}
		_ = env.b.Ack(d)
	}

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID, Force: true})
	if err != nil {
		t.Fatalf("forced Scan: %v", err)
	}
	if !result.Mutated {
		t.Fatal("expected forced scan to mutate even with no content changes")
	}

	thumbDepth, _ := env.b.QueueDepth(bus.TopicThumbnail)
	if thumbDepth != 1 {
		t.Fatalf("thumbDepth = %d, want 1 (reprocessed unchanged item)", thumbDepth)
	}
}

func TestScanDirectFileAccessSkipsMessageFanOut(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 100)

	lib, err := env.store.CreateLibrary(context.Background(), catalog.Library{
		DisplayName: "lib", RootPath: filepath.Dir(root), Active: true,
	})
	if err != nil {
		t.Fatalf("CreateLibrary: %v", err)
	}
	coll, err := env.store.CreateCollection(context.Background(), catalog.Collection{
		LibraryID: lib.ID, DisplayName: "album", Path: root, Kind: mediatypes.CollectionDirectory,
		Settings: catalog.CollectionSettings{UseDirectFileAccess: true},
	})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	result, err := env.worker.Scan(context.Background(), Request{CollectionID: coll.ID})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("Added = %d, want 1", result.Added)
	}

	thumbDepth, _ := env.b.QueueDepth(bus.TopicThumbnail)
	if thumbDepth != 0 {
		t.Fatalf("thumbDepth = %d, want 0 for direct-file-access collection", thumbDepth)
	}

	updated, err := env.store.GetCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if len(updated.Thumbnails) != 1 || !updated.Thumbnails[0].IsDirect {
		t.Fatalf("expected one direct thumbnail entry, got %+v", updated.Thumbnails)
	}
}
