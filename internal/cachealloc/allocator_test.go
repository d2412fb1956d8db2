package cachealloc

import (
	"context"
	"testing"

	"catalogpipe/internal/catalog"
)

type fakeStore struct {
	folders map[string]catalog.CacheFolder
}

func newFakeStore(folders ...catalog.CacheFolder) *fakeStore {
	m := make(map[string]catalog.CacheFolder, len(folders))
	for _, f := range folders {
		m[f.ID] = f
	}
	return &fakeStore{folders: m}
}

func (s *fakeStore) ListActiveCacheFolders(_ context.Context) ([]catalog.CacheFolder, error) {
	var out []catalog.CacheFolder
	for _, f := range s.folders {
		if f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) AdjustCacheFolderBytes(_ context.Context, id string, delta int64) (catalog.CacheFolder, error) {
	f := s.folders[id]
	f.CurrentBytes += delta
	s.folders[id] = f
	return f, nil
}

func (s *fakeStore) SetCacheFolderActive(_ context.Context, id string, active bool) error {
	f := s.folders[id]
	f.Active = active
	s.folders[id] = f
	return nil
}

func TestSelectPrefersHighestPriority(t *testing.T) {
	store := newFakeStore(
		catalog.CacheFolder{ID: "low", MaxBytes: 1000, CurrentBytes: 0, Priority: 1, Active: true},
		catalog.CacheFolder{ID: "high", MaxBytes: 1000, CurrentBytes: 0, Priority: 10, Active: true},
	)
	a := New(store, nil)

	got, err := a.Select(context.Background(), 100)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "high" {
		t.Fatalf("Select = %q, want %q", got.ID, "high")
	}
}

func TestSelectBreaksTiesOnLowestFillRatio(t *testing.T) {
	store := newFakeStore(
		catalog.CacheFolder{ID: "fuller", MaxBytes: 1000, CurrentBytes: 800, Priority: 5, Active: true},
		catalog.CacheFolder{ID: "emptier", MaxBytes: 1000, CurrentBytes: 100, Priority: 5, Active: true},
	)
	a := New(store, nil)

	got, err := a.Select(context.Background(), 50)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "emptier" {
		t.Fatalf("Select = %q, want %q", got.ID, "emptier")
	}
}

func TestSelectSkipsFoldersWithoutHeadroom(t *testing.T) {
	store := newFakeStore(
		catalog.CacheFolder{ID: "tight", MaxBytes: 1000, CurrentBytes: 950, Priority: 10, Active: true},
		catalog.CacheFolder{ID: "roomy", MaxBytes: 1000, CurrentBytes: 100, Priority: 1, Active: true},
	)
	a := New(store, nil)

	got, err := a.Select(context.Background(), 100)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "roomy" {
		t.Fatalf("Select = %q, want %q (only one with headroom)", got.ID, "roomy")
	}
}

func TestSelectReturnsNoCacheSpaceWhenNoneQualify(t *testing.T) {
	store := newFakeStore(
		catalog.CacheFolder{ID: "full", MaxBytes: 1000, CurrentBytes: 950, Priority: 10, Active: true},
	)
	a := New(store, nil)

	_, err := a.Select(context.Background(), 100)
	if err != ErrNoCacheSpace {
		t.Fatalf("Select error = %v, want ErrNoCacheSpace", err)
	}
}

func TestSelectIgnoresInactiveFolders(t *testing.T) {
	store := newFakeStore(
		catalog.CacheFolder{ID: "inactive", MaxBytes: 1000, CurrentBytes: 0, Priority: 100, Active: false},
	)
	a := New(store, nil)

	_, err := a.Select(context.Background(), 10)
	if err != ErrNoCacheSpace {
		t.Fatalf("Select error = %v, want ErrNoCacheSpace", err)
	}
}

func TestCommitIncreasesCurrentBytes(t *testing.T) {
	store := newFakeStore(catalog.CacheFolder{ID: "f1", Name: "f1", MaxBytes: 1000, Priority: 1, Active: true})
	a := New(store, nil)

	if err := a.Commit(context.Background(), "f1", 200); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := store.folders["f1"].CurrentBytes; got != 200 {
		t.Fatalf("CurrentBytes = %d, want 200", got)
	}
}

func TestReleaseDecreasesCurrentBytes(t *testing.T) {
	store := newFakeStore(catalog.CacheFolder{ID: "f1", Name: "f1", MaxBytes: 1000, CurrentBytes: 300, Priority: 1, Active: true})
	a := New(store, nil)

	if err := a.Release(context.Background(), "f1", 100); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := store.folders["f1"].CurrentBytes; got != 200 {
		t.Fatalf("CurrentBytes = %d, want 200", got)
	}
}

func TestProbeReachabilityDeactivatesMissingRoot(t *testing.T) {
	store := newFakeStore(catalog.CacheFolder{ID: "f1", Name: "f1", RootPath: "/nonexistent/path/does/not/exist", MaxBytes: 1000, Priority: 1, Active: true})
	a := New(store, nil)

	if err := a.ProbeReachability(context.Background()); err != nil {
		t.Fatalf("ProbeReachability: %v", err)
	}
	if store.folders["f1"].Active {
		t.Fatal("expected folder to be deactivated after failed probe")
	}
}

func TestProbeReachabilityKeepsReachableRootActive(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(catalog.CacheFolder{ID: "f1", Name: "f1", RootPath: dir, MaxBytes: 1000, Priority: 1, Active: true})
	a := New(store, nil)

	if err := a.ProbeReachability(context.Background()); err != nil {
		t.Fatalf("ProbeReachability: %v", err)
	}
	if !store.folders["f1"].Active {
		t.Fatal("expected folder to remain active")
	}
}

func TestFillRatioZeroMaxBytes(t *testing.T) {
	f := catalog.CacheFolder{MaxBytes: 0, CurrentBytes: 500}
	if got := fillRatio(f); got != 0 {
		t.Fatalf("fillRatio = %v, want 0", got)
	}
}
