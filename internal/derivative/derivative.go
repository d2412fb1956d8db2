package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"io"
	"os"
	"path/filepath"
	"time"

	"catalogpipe/internal/archive"
	"catalogpipe/internal/cachealloc"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/codec"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"
)

// PresetName labels which of a Collection's two presets a request targets.
type PresetName string

const (
	PresetThumbnail PresetName = "thumbnail"
	PresetCache     PresetName = "cache"
)

// SourceLocator identifies where a media item's source bytes live: either
// a plain filesystem path, or an entry inside an archive.
type SourceLocator struct {
	FilePath     string // set when the source is a directory-backed file
	ArchivePath  string // set when the source lives inside an archive
	ArchiveEntry string
	ArchiveKind  mediatypes.CollectionKind
}

// IsArchive reports whether the locator points inside an archive.
func (s SourceLocator) IsArchive() bool { return s.ArchivePath != "" }

// Request is one unit of derivative work.
type Request struct {
	CollectionID string
	MediaItemID  string
	Source       SourceLocator
	MediaKind    mediatypes.Kind
	Preset       PresetName
	Params       mediatypes.Preset
}

// Result describes a successfully produced derivative.
type Result struct {
	Path       string
	Format     string
	Width      int
	Height     int
	ByteSize   int64
	CacheFolderID string
}

// Failure kinds. IsRetryable splits them into retryable and non-retryable
// kinds, but the stage consumers do not consult it: every Process error is
// nacked and retried by the bus until the message is dead-lettered, and
// nothing marks an item skipped.
var (
	ErrDecodeFailed = errors.New("derivative: decode failed")
	ErrEncodeFailed = errors.New("derivative: encode failed")
	ErrCorruptSource = errors.New("derivative: corrupt source")
	ErrIOFailed      = errors.New("derivative: io failed")
	ErrNoCacheSpace  = cachealloc.ErrNoCacheSpace
)

// IsRetryable reports whether err is a retryable kind (IOFailed,
// NoCacheSpace) rather than a non-retryable one (DecodeFailed,
// EncodeFailed, CorruptSource).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIOFailed) || errors.Is(err, ErrNoCacheSpace)
}

// catalogStore is the narrow catalog surface the engine needs.
type catalogStore interface {
	GetCollection(ctx context.Context, id string) (catalog.Collection, error)
	UpdateCollection(ctx context.Context, c catalog.Collection) (catalog.Collection, error)
}

// memoryGate throttles decode work under memory pressure (teacher's
// internal/memory.Monitor.WaitIfPaused).
type memoryGate interface {
	WaitIfPaused() bool
}

// Engine produces derivatives and writes them back to the catalog.
type Engine struct {
	store     catalogStore
	allocator *cachealloc.Allocator
	archives  *archive.Pool
	memory    memoryGate
}

// New creates an Engine. memory may be nil to disable throttling.
func New(store catalogStore, allocator *cachealloc.Allocator, archives *archive.Pool, memory memoryGate) *Engine {
	return &Engine{store: store, allocator: allocator, archives: archives, memory: memory}
}

// Process runs one derivative request end to end: decode, resize, encode,
// allocate a destination, write atomically, and CAS-update the owning
// Collection. The stage consumer hands any error it returns to the bus for
// retry, whatever its kind.
func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	kindLabel := string(req.Preset)
	start := time.Now()
	defer func() {
		metrics.DerivativeGenerationDuration.WithLabelValues(kindLabel).Observe(time.Since(start).Seconds())
	}()

	if e.memory != nil && !e.memory.WaitIfPaused() {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "retryable").Inc()
		return Result{}, fmt.Errorf("%w: shutdown while paused for memory pressure", ErrIOFailed)
	}

	img, err := e.decode(ctx, req)
	if err != nil {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "failed").Inc()
		return Result{}, err
	}

	resized := codec.Resize(img, req.Params.Width, req.Params.Height)

	var buf bytes.Buffer
	if err := codec.Encode(&buf, resized, req.Params); err != nil {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "failed").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	data := buf.Bytes()

	folder, err := e.allocator.Select(ctx, int64(len(data)))
	if err != nil {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "retryable").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrNoCacheSpace, err)
	}

	ext := extensionFor(req.Params.Format)
	relPath := filepath.Join(req.CollectionID, fmt.Sprintf("%s.%s%s", req.MediaItemID, req.Preset, ext))
	destPath := filepath.Join(folder.RootPath, relPath)

	if err := writeAtomic(destPath, data); err != nil {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "retryable").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrIOFailed, err)
	}

	if err := e.allocator.Commit(ctx, folder.ID, int64(len(data))); err != nil {
		logging.Error("derivative: failed to commit byte accounting for folder %s: %v", folder.ID, err)
	}

	res := Result{
		Path:          destPath,
		Format:        req.Params.Format,
		Width:         resized.Bounds().Dx(),
		Height:        resized.Bounds().Dy(),
		ByteSize:      int64(len(data)),
		CacheFolderID: folder.ID,
	}

	if err := e.writeBack(ctx, req, res); err != nil {
		metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "retryable").Inc()
		return Result{}, fmt.Errorf("%w: catalog write-back: %v", ErrIOFailed, err)
	}

	metrics.DerivativeGenerationsTotal.WithLabelValues(kindLabel, "ok").Inc()
	return res, nil
}

func (e *Engine) decode(ctx context.Context, req Request) (stdimage.Image, error) {
	if req.MediaKind == mediatypes.KindVideo {
		if req.Source.IsArchive() {
			return nil, fmt.Errorf("%w: video frame extraction from archive entries is not supported", ErrDecodeFailed)
		}
		img, err := codec.VideoFrame(ctx, req.Source.FilePath)
		if err != nil {
			return nil, classifyCodecErr(err)
		}
		return img, nil
	}

	r, err := e.openSource(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailed, err)
	}
	defer r.Close()

	img, err := codec.DecodeImage(r)
	if err != nil {
		return nil, classifyCodecErr(err)
	}
	return img, nil
}

func classifyCodecErr(err error) error {
	var corrupt *codec.ErrCorruptSource
	if errors.As(err, &corrupt) {
		return fmt.Errorf("%w: %v", ErrCorruptSource, err)
	}
	return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
}

func (e *Engine) writeBack(ctx context.Context, req Request, res Result) error {
	for attempt := 0; attempt < 3; attempt++ {
		coll, err := e.store.GetCollection(ctx, req.CollectionID)
		if err != nil {
			return err
		}

		applyDerivative(&coll, req, res)

		_, err = e.store.UpdateCollection(ctx, coll)
		if err == nil {
			return nil
		}
		if !errors.Is(err, catalog.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("derivative: write-back exhausted retries on version conflict")
}

func applyDerivative(c *catalog.Collection, req Request, res Result) {
	now := time.Now().UTC()
	binding := catalog.CacheBindingEmbedded{
		MediaItemID:   req.MediaItemID,
		Preset:        string(req.Preset),
		CacheFolderID: res.CacheFolderID,
		ByteSize:      res.ByteSize,
	}
	c.CacheBindings = upsertBinding(c.CacheBindings, binding)

	switch req.Preset {
	case PresetThumbnail:
		entry := catalog.ThumbnailEmbedded{
			MediaItemID: req.MediaItemID, Preset: string(req.Preset), Format: res.Format,
			Width: res.Width, Height: res.Height, Path: res.Path, ByteSize: res.ByteSize, GeneratedAt: now,
		}
		before := len(c.Thumbnails)
		c.Thumbnails = upsertThumbnail(c.Thumbnails, entry)
		if len(c.Thumbnails) > before {
			c.Statistics.ThumbnailCount++
		}
	case PresetCache:
		entry := catalog.CacheImageEmbedded{
			MediaItemID: req.MediaItemID, Preset: string(req.Preset), Format: res.Format,
			Width: res.Width, Height: res.Height, Path: res.Path, ByteSize: res.ByteSize, GeneratedAt: now,
		}
		before := len(c.CacheImages)
		c.CacheImages = upsertCacheImage(c.CacheImages, entry)
		if len(c.CacheImages) > before {
			c.Statistics.CachedCount++
		}
	}
	c.Statistics.LastActivityAt = now
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

func upsertBinding(list []catalog.CacheBindingEmbedded, entry catalog.CacheBindingEmbedded) []catalog.CacheBindingEmbedded {
	for i, b := range list {
		if b.MediaItemID == entry.MediaItemID && b.Preset == entry.Preset {
			list[i] = entry
			return list
		}
	}
	return append(list, entry)
}

func (e *Engine) openSource(loc SourceLocator) (io.ReadCloser, error) {
	if !loc.IsArchive() {
		return os.Open(loc.FilePath)
	}
	r, err := e.archives.Acquire(loc.ArchivePath, loc.ArchiveKind)
	if err != nil {
		return nil, err
	}
	return r.Open(loc.ArchiveEntry)
}

func extensionFor(format string) string {
	switch format {
	case "png":
		return ".png"
	default:
		return ".jpg"
	}
}

func writeAtomic(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp := destPath + ".tmp-" + fmt.Sprintf("%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
