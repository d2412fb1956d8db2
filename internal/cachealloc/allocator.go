package cachealloc

import (
	"context"
	"errors"
	"os"

	"github.com/dustin/go-humanize"

	"catalogpipe/internal/catalog"
	"catalogpipe/internal/filesystem"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

// ErrNoCacheSpace is returned when no active cache folder has enough
// headroom for an output of the requested size.
var ErrNoCacheSpace = errors.New("cachealloc: no cache folder has sufficient space")

// catalogStore is the subset of *catalog.Store the allocator needs,
// narrowed for testability.
type catalogStore interface {
	ListActiveCacheFolders(ctx context.Context) ([]catalog.CacheFolder, error)
	AdjustCacheFolderBytes(ctx context.Context, id string, delta int64) (catalog.CacheFolder, error)
	SetCacheFolderActive(ctx context.Context, id string, active bool) error
}

// Allocator selects a destination cache folder for derivative writes and
// tracks per-folder usage and reachability.
type Allocator struct {
	store    catalogStore
	volumes  *filesystem.VolumeResolver
	reportFn func(folder catalog.CacheFolder)
}

// New creates an Allocator backed by store. volumes may be nil, in which
// case cache folders are reported under the "unknown" volume label.
func New(store catalogStore, volumes *filesystem.VolumeResolver) *Allocator {
	return &Allocator{store: store, volumes: volumes}
}

// Select picks the destination folder for an output of outputSize bytes:
// among active folders where currentBytes+outputSize <= maxBytes, the
// highest priority wins, ties broken by lowest current fill ratio.
func (a *Allocator) Select(ctx context.Context, outputSize int64) (catalog.CacheFolder, error) {
	folders, err := a.store.ListActiveCacheFolders(ctx)
	if err != nil {
		return catalog.CacheFolder{}, err
	}

	var best catalog.CacheFolder
	haveBest := false
	for _, f := range folders {
		if f.MaxBytes > 0 && f.CurrentBytes+outputSize > f.MaxBytes {
			continue
		}
		if !haveBest {
			best, haveBest = f, true
			continue
		}
		if f.Priority > best.Priority {
			best = f
			continue
		}
		if f.Priority == best.Priority && fillRatio(f) < fillRatio(best) {
			best = f
		}
	}

	if !haveBest {
		metrics.CacheAllocationsTotal.WithLabelValues("no_space").Inc()
		return catalog.CacheFolder{}, ErrNoCacheSpace
	}
	metrics.CacheAllocationsTotal.WithLabelValues("ok").Inc()
	return best, nil
}

// Commit records outputSize bytes as written to folder and refreshes its
// fill-ratio gauge.
func (a *Allocator) Commit(ctx context.Context, folderID string, outputSize int64) error {
	f, err := a.store.AdjustCacheFolderBytes(ctx, folderID, outputSize)
	if err != nil {
		return err
	}
	a.reportUsage(f)
	return nil
}

// Release reverses a prior Commit, e.g. when a derivative is later evicted
// or replaced by a smaller one of the same preset.
func (a *Allocator) Release(ctx context.Context, folderID string, byteSize int64) error {
	f, err := a.store.AdjustCacheFolderBytes(ctx, folderID, -byteSize)
	if err != nil {
		return err
	}
	a.reportUsage(f)
	return nil
}

func (a *Allocator) reportUsage(f catalog.CacheFolder) {
	volume := "unknown"
	if a.volumes != nil {
		volume = a.volumes.Resolve(f.RootPath)
	}
	metrics.CacheFolderBytesUsed.WithLabelValues(f.Name, volume).Set(float64(f.CurrentBytes))
	metrics.CacheFolderFillRatio.WithLabelValues(f.Name, volume).Set(fillRatio(f))
}

func fillRatio(f catalog.CacheFolder) float64 {
	if f.MaxBytes <= 0 {
		return 0
	}
	return float64(f.CurrentBytes) / float64(f.MaxBytes)
}

// ProbeReachability stats each active cache folder's root and reads one
// directory entry name from it: a folder that fails either check is flagged unreachable
// and deactivated so the allocator stops routing new writes there.
func (a *Allocator) ProbeReachability(ctx context.Context) error {
	folders, err := a.store.ListActiveCacheFolders(ctx)
	if err != nil {
		return err
	}

	for _, f := range folders {
		if probeOne(f.RootPath) {
			continue
		}
		logging.Warn("cache folder %s (%s) failed reachability probe, deactivating", f.Name, f.RootPath)
		metrics.CacheFolderUnreachableTotal.WithLabelValues(f.Name).Inc()
		if err := a.store.SetCacheFolderActive(ctx, f.ID, false); err != nil {
			logging.Error("cachealloc: failed to deactivate unreachable folder %s: %v", f.ID, err)
		}
	}
	return nil
}

func probeOne(rootPath string) bool {
	info, err := os.Stat(rootPath)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(rootPath)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err == nil || err.Error() == "EOF"
}

// FormatBytes renders a byte count for logging, e.g. "12 MB".
func FormatBytes(n int64) string {
	if n < 0 {
		return humanize.Bytes(0)
	}
	return humanize.Bytes(uint64(n))
}
