package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"catalogpipe/internal/mediatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetLibrary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib, err := s.CreateLibrary(ctx, Library{DisplayName: "Photos", RootPath: "/data/photos", Active: true})
	if err != nil {
		t.Fatalf("CreateLibrary: %v", err)
	}
	if lib.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetLibrary(ctx, lib.ID)
	if err != nil {
		t.Fatalf("GetLibrary: %v", err)
	}
	if got.RootPath != lib.RootPath {
		t.Fatalf("RootPath = %q, want %q", got.RootPath, lib.RootPath)
	}
}

func TestCreateLibraryValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateLibrary(context.Background(), Library{}); err == nil {
		t.Fatal("expected validation error for empty library")
	}
}

func TestCreateCollectionDuplicatePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib, _ := s.CreateLibrary(ctx, Library{DisplayName: "L", RootPath: "/data/l"})

	c := Collection{LibraryID: lib.ID, DisplayName: "albumA", Path: "/data/l/albumA", Kind: mediatypes.CollectionDirectory}
	if _, err := s.CreateCollection(ctx, c); err != nil {
		t.Fatalf("first CreateCollection: %v", err)
	}
	if _, err := s.CreateCollection(ctx, c); err == nil {
		t.Fatal("expected duplicate path error")
	}
}

func TestArchiveCollectionForcesIndirectAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lib, _ := s.CreateLibrary(ctx, Library{DisplayName: "L", RootPath: "/data/l"})

	c := Collection{
		LibraryID: lib.ID, DisplayName: "bundle.zip", Path: "/data/l/bundle.zip",
		Kind:     mediatypes.CollectionZip,
		Settings: CollectionSettings{UseDirectFileAccess: true},
	}
	created, err := s.CreateCollection(ctx, c)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if created.Settings.UseDirectFileAccess {
		t.Fatal("archive collection must force useDirectFileAccess=false")
	}
}

func TestUpdateCollectionVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lib, _ := s.CreateLibrary(ctx, Library{DisplayName: "L", RootPath: "/data/l"})
	c, _ := s.CreateCollection(ctx, Collection{LibraryID: lib.ID, DisplayName: "a", Path: "/data/l/a", Kind: mediatypes.CollectionDirectory})

	c.MediaItems = append(c.MediaItems, MediaItem{ID: "m1", Filename: "a.jpg", RelativePath: "a.jpg", Kind: mediatypes.KindImage, InsertionOrder: 0})
	updated, err := s.UpdateCollection(ctx, c)
	if err != nil {
		t.Fatalf("UpdateCollection: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("Version = %d, want 1", updated.Version)
	}

	// Stale write using the original (pre-update) version must conflict.
	if _, err := s.UpdateCollection(ctx, c); err != ErrVersionConflict {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestSoftDeleteCollectionHidesFromListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lib, _ := s.CreateLibrary(ctx, Library{DisplayName: "L", RootPath: "/data/l"})
	c, _ := s.CreateCollection(ctx, Collection{LibraryID: lib.ID, DisplayName: "a", Path: "/data/l/a", Kind: mediatypes.CollectionDirectory})

	if err := s.SoftDeleteCollection(ctx, c.ID); err != nil {
		t.Fatalf("SoftDeleteCollection: %v", err)
	}
	if _, err := s.GetCollection(ctx, c.ID); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	all, err := s.ListAllCollections(ctx)
	if err != nil {
		t.Fatalf("ListAllCollections: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 collections after soft delete, got %d", len(all))
	}
}

func TestCacheFolderByteAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.CreateCacheFolder(ctx, CacheFolder{Name: "f1", RootPath: "/cache/f1", MaxBytes: 1000, Priority: 10, Active: true})
	if err != nil {
		t.Fatalf("CreateCacheFolder: %v", err)
	}
	got, err := s.AdjustCacheFolderBytes(ctx, f.ID, 400)
	if err != nil {
		t.Fatalf("AdjustCacheFolderBytes: %v", err)
	}
	if got.CurrentBytes != 400 {
		t.Fatalf("CurrentBytes = %d, want 400", got.CurrentBytes)
	}
	if got.CurrentBytes > got.MaxBytes {
		t.Fatal("currentBytes must never exceed maxBytes")
	}
}
