package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"catalogpipe/internal/logging"
)

// Watch recursively watches root for filesystem changes and calls trigger
// at most once per debounce window, coalescing a burst of individual file
// events (an archive extraction, a bulk copy) into a single rescan request.
// It blocks until ctx is cancelled. A watch failure on an individual
// subdirectory (e.g. removed between being discovered and being added) is
// logged and skipped rather than aborting the whole watch.
func Watch(ctx context.Context, root string, debounce time.Duration, trigger func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addRecursive(w, root); err != nil {
		return err
	}

	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(w, ev.Name); err != nil {
						logging.Warn("walker: watch %s: %v", ev.Name, err)
					}
				}
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Warn("walker: watch error on %s: %v", root, err)

		case <-pending:
			trigger()
		}
	}
}

// addRecursive registers root and every subdirectory beneath it with w.
// fsnotify watches are not recursive on any platform, so every directory
// in the tree needs its own explicit watch.
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("walker: walk %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := w.Add(path); addErr != nil {
			logging.Warn("walker: watch %s: %v", path, addErr)
		}
		return nil
	})
}
