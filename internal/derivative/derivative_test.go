package derivative

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"catalogpipe/internal/archive"
	"catalogpipe/internal/cachealloc"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/mediatypes"
)

type fakeCacheStore struct {
	folders map[string]catalog.CacheFolder
}

func (s *fakeCacheStore) ListActiveCacheFolders(_ context.Context) ([]catalog.CacheFolder, error) {
	var out []catalog.CacheFolder
	for _, f := range s.folders {
		if f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeCacheStore) AdjustCacheFolderBytes(_ context.Context, id string, delta int64) (catalog.CacheFolder, error) {
	f := s.folders[id]
	f.CurrentBytes += delta
	s.folders[id] = f
	return f, nil
}

func (s *fakeCacheStore) SetCacheFolderActive(_ context.Context, id string, active bool) error {
	f := s.folders[id]
	f.Active = active
	s.folders[id] = f
	return nil
}

type fakeCollectionStore struct {
	collections map[string]catalog.Collection
}

func (s *fakeCollectionStore) GetCollection(_ context.Context, id string) (catalog.Collection, error) {
	c, ok := s.collections[id]
	if !ok {
		return catalog.Collection{}, catalog.ErrNotFound
	}
	return c, nil
}

func (s *fakeCollectionStore) UpdateCollection(_ context.Context, c catalog.Collection) (catalog.Collection, error) {
	existing := s.collections[c.ID]
	if existing.Version != c.Version {
		return catalog.Collection{}, catalog.ErrVersionConflict
	}
	c.Version++
	s.collections[c.ID] = c
	return c, nil
}

func testEngine(t *testing.T) (*Engine, *fakeCollectionStore, string) {
	t.Helper()
	cacheDir := t.TempDir()
	cacheStore := &fakeCacheStore{folders: map[string]catalog.CacheFolder{
		"f1": {ID: "f1", Name: "f1", RootPath: cacheDir, MaxBytes: 10 << 20, Priority: 1, Active: true},
	}}
	allocator := cachealloc.New(cacheStore, nil)

	collStore := &fakeCollectionStore{collections: map[string]catalog.Collection{
		"coll1": {ID: "coll1", Version: 0},
	}}

	return New(collStore, allocator, archive.NewPool(4), nil), collStore, cacheDir
}

func writeSourceImage(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	path := filepath.Join(dir, "source.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestProcessThumbnailWritesFileAndUpdatesCatalog(t *testing.T) {
	engine, store, dir := testEngine(t)
	srcPath := writeSourceImage(t, dir)

	req := Request{
		CollectionID: "coll1",
		MediaItemID:  "item1",
		Source:       SourceLocator{FilePath: srcPath},
		MediaKind:    mediatypes.KindImage,
		Preset:       PresetThumbnail,
		Params:       mediatypes.Preset{Width: 32, Height: 32, Format: "jpeg", Quality: 80},
	}

	res, err := engine.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("expected output file at %s: %v", res.Path, err)
	}

	coll := store.collections["coll1"]
	if len(coll.Thumbnails) != 1 {
		t.Fatalf("Thumbnails len = %d, want 1", len(coll.Thumbnails))
	}
	if coll.Statistics.ThumbnailCount != 1 {
		t.Fatalf("ThumbnailCount = %d, want 1", coll.Statistics.ThumbnailCount)
	}
	if coll.Version != 1 {
		t.Fatalf("Version = %d, want 1", coll.Version)
	}
}

func TestProcessReplacesExistingPresetEntry(t *testing.T) {
	engine, store, dir := testEngine(t)
	srcPath := writeSourceImage(t, dir)

	req := Request{
		CollectionID: "coll1",
		MediaItemID:  "item1",
		Source:       SourceLocator{FilePath: srcPath},
		MediaKind:    mediatypes.KindImage,
		Preset:       PresetCache,
		Params:       mediatypes.Preset{Width: 200, Height: 200, Format: "jpeg", Quality: 80},
	}

	if _, err := engine.Process(context.Background(), req); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if _, err := engine.Process(context.Background(), req); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	coll := store.collections["coll1"]
	if len(coll.CacheImages) != 1 {
		t.Fatalf("CacheImages len = %d, want 1 (replace not append)", len(coll.CacheImages))
	}
	if coll.Statistics.CachedCount != 1 {
		t.Fatalf("CachedCount = %d, want 1", coll.Statistics.CachedCount)
	}
}

func TestProcessCorruptSourceIsNotRetryable(t *testing.T) {
	engine, _, dir := testEngine(t)
	badPath := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(badPath, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	req := Request{
		CollectionID: "coll1",
		MediaItemID:  "item1",
		Source:       SourceLocator{FilePath: badPath},
		MediaKind:    mediatypes.KindImage,
		Preset:       PresetThumbnail,
		Params:       mediatypes.Preset{Width: 32, Height: 32, Format: "jpeg"},
	}

	_, err := engine.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected error decoding corrupt source")
	}
	if IsRetryable(err) {
		t.Fatalf("corrupt-source error should not be retryable: %v", err)
	}
}

func TestProcessMissingFileIsRetryable(t *testing.T) {
	engine, _, dir := testEngine(t)

	req := Request{
		CollectionID: "coll1",
		MediaItemID:  "item1",
		Source:       SourceLocator{FilePath: filepath.Join(dir, "missing.png")},
		MediaKind:    mediatypes.KindImage,
		Preset:       PresetThumbnail,
		Params:       mediatypes.Preset{Width: 32, Height: 32, Format: "jpeg"},
	}

	_, err := engine.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
	if !IsRetryable(err) {
		t.Fatalf("missing-file error should be retryable: %v", err)
	}
}

func TestProcessNoCacheSpaceIsRetryable(t *testing.T) {
	cacheDir := t.TempDir()
	cacheStore := &fakeCacheStore{folders: map[string]catalog.CacheFolder{
		"f1": {ID: "f1", Name: "f1", RootPath: cacheDir, MaxBytes: 10, Priority: 1, Active: true},
	}}
	allocator := cachealloc.New(cacheStore, nil)
	collStore := &fakeCollectionStore{collections: map[string]catalog.Collection{"coll1": {ID: "coll1"}}}
	engine := New(collStore, allocator, archive.NewPool(4), nil)

	srcPath := writeSourceImage(t, cacheDir)
	req := Request{
		CollectionID: "coll1",
		MediaItemID:  "item1",
		Source:       SourceLocator{FilePath: srcPath},
		MediaKind:    mediatypes.KindImage,
		Preset:       PresetThumbnail,
		Params:       mediatypes.Preset{Width: 32, Height: 32, Format: "jpeg", Quality: 80},
	}

	_, err := engine.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected no-cache-space error")
	}
	if !IsRetryable(err) {
		t.Fatalf("no-cache-space error should be retryable: %v", err)
	}
}
