package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"catalogpipe/internal/mediatypes"
)

func writeTestZip(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "bundle.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range []string{"page001.jpg", "sub/page002.jpg", "__MACOSX/page001.jpg", ".hidden/x.jpg"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create entry %q: %v", name, err)
		}
		if _, err := w.Write([]byte("data:" + name)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return p
}

func TestZipReaderFiltersJunkAndCanonicalizes(t *testing.T) {
	dir := t.TempDir()
	p := writeTestZip(t, dir)

	r, err := Open(p, mediatypes.CollectionZip)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["page001.jpg"] || !names["sub/page002.jpg"] {
		t.Fatalf("expected real entries present, got %v", names)
	}
	if names["__MACOSX/page001.jpg"] || names[".hidden/x.jpg"] {
		t.Fatalf("expected junk/hidden entries filtered, got %v", names)
	}
}

func TestZipReaderOpenReadsBytes(t *testing.T) {
	dir := t.TempDir()
	p := writeTestZip(t, dir)
	r, err := Open(p, mediatypes.CollectionZip)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	rc, err := r.Open("page001.jpg")
	if err != nil {
		t.Fatalf("Open entry: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("data:page001.jpg")) {
		t.Fatalf("data = %q, want %q", data, "data:page001.jpg")
	}
}

func TestResolveTruncatedNameRepair(t *testing.T) {
	entries := []Entry{{Name: "sub/page002.jpg"}, {Name: "page001.jpg"}}

	got, err := Resolve(entries, "page002.jpg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sub/page002.jpg" {
		t.Fatalf("got %q, want sub/page002.jpg", got)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	entries := []Entry{{Name: "a/x.jpg"}, {Name: "b/x.jpg"}}
	if _, err := Resolve(entries, "x.jpg"); err != ErrAmbiguous {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	entries := []Entry{{Name: "a.jpg"}}
	if _, err := Resolve(entries, "zzz.jpg"); err != ErrEntryNotFound {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
}

func TestPoolReusesReaderForSamePath(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTestZip(t, dir)

	pool := NewPool(1)
	defer pool.CloseAll()

	r1, err := pool.Acquire(p1, mediatypes.CollectionZip)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	r1again, err := pool.Acquire(p1, mediatypes.CollectionZip)
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if r1 != r1again {
		t.Fatal("expected same Reader instance for repeated Acquire of same path")
	}
}
