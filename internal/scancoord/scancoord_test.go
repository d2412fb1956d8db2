package scancoord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
)

type testEnv struct {
	store *catalog.Store
	l     *ledger.Ledger
	b     *bus.Bus
	coord *Coordinator
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

	return &testEnv{store: store, l: l, b: b, coord: New(store, l, b)}
}

func mustMkLibrary(t *testing.T, env *testEnv, root string) catalog.Library {
	t.Helper()
	lib, err := env.store.CreateLibrary(context.Background(), catalog.Library{
		DisplayName: "lib", RootPath: root, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateLibrary: %v", err)
	}
	return lib
}

func TestBeginLibraryScanDiscoversNewCollections(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "albumA"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "albumB"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	lib := mustMkLibrary(t, env, root)

	job, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false)
	if err != nil {
		t.Fatalf("BeginLibraryScan: %v", err)
	}
	if job.Progress.Total != 2 {
		t.Fatalf("Progress.Total = %d, want 2", job.Progress.Total)
	}
	if job.Progress.Failed != 0 {
		t.Fatalf("Progress.Failed = %d, want 0", job.Progress.Failed)
	}

	colls, err := env.store.ListCollectionsByLibrary(context.Background(), lib.ID)
	if err != nil {
		t.Fatalf("ListCollectionsByLibrary: %v", err)
	}
	if len(colls) != 2 {
		t.Fatalf("len(colls) = %d, want 2", len(colls))
	}

	depth, err := env.b.QueueDepth(bus.TopicCollectionScan)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("QueueDepth = %d, want 2", depth)
	}
}

func TestBeginLibraryScanCoalescesConcurrentRequest(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	lib := mustMkLibrary(t, env, root)

	first, err := env.l.Create(context.Background(), ledger.Job{
		Kind: ledger.KindLibraryScan, TargetID: lib.ID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false)
	if err != nil {
		t.Fatalf("BeginLibraryScan: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("BeginLibraryScan returned job %s, want coalesced job %s", got.ID, first.ID)
	}
}

func TestBeginLibraryScanSkipsUnchangedCollection(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "albumA"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	lib := mustMkLibrary(t, env, root)

	if _, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false); err != nil {
		t.Fatalf("first BeginLibraryScan: %v", err)
	}
	if firstDepth, _ := env.b.QueueDepth(bus.TopicCollectionScan); firstDepth != 1 {
		t.Fatalf("first scan QueueDepth = %d, want 1", firstDepth)
	}

	// Drain the queue to isolate the second scan's publishes.
	for {
		d, err := env.b.Receive(bus.TopicCollectionScan)
		if err != nil {
			break
		}
		_ = env.b.Ack(d)
	}

	job, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false)
	if err != nil {
		t.Fatalf("second BeginLibraryScan: %v", err)
	}
	if job.Progress.Total != 0 {
		t.Fatalf("second scan Progress.Total = %d, want 0 (unchanged collection)", job.Progress.Total)
	}
	secondDepth, _ := env.b.QueueDepth(bus.TopicCollectionScan)
	if secondDepth != 0 {
		t.Fatalf("second scan enqueued %d messages, want 0", secondDepth)
	}
}

func TestBeginLibraryScanForceRescansUnchangedCollection(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "albumA"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	lib := mustMkLibrary(t, env, root)

	if _, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false); err != nil {
		t.Fatalf("first BeginLibraryScan: %v", err)
	}
	for {
		d, err := env.b.Receive(bus.TopicCollectionScan)
		if err != nil {
			break
		}
		_ = env.b.Ack(d)
	}

	job, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, true)
	if err != nil {
		t.Fatalf("forced BeginLibraryScan: %v", err)
	}
	if job.Progress.Total != 1 {
		t.Fatalf("forced scan Progress.Total = %d, want 1", job.Progress.Total)
	}
}

func TestBeginLibraryScanFatalOnMissingRoot(t *testing.T) {
	env := newTestEnv(t)
	lib := mustMkLibrary(t, env, filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := env.coord.BeginLibraryScan(context.Background(), lib.ID, false)
	if err == nil {
		t.Fatal("expected error scanning a missing root")
	}
}
