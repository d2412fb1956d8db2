/*
Package filesystem provides resilient filesystem operations with automatic retry logic
for NFS stale file handle errors.

# Purpose

This package wraps standard filesystem operations (os.Stat, os.Open) with retry logic
specifically designed to handle transient NFS failures, particularly ESTALE (stale file
handle) errors that occur when NFS-mounted files are accessed during network issues or
server-side changes.

# Key Features

  - Automatic retry with exponential backoff for NFS ESTALE errors (errno 116)
  - Configurable retry attempts (default: 3) and backoff timings
  - Transparent fallback to standard os operations for non-NFS errors
  - Zero overhead for successful operations

# Usage

Basic usage with default retry configuration:

	import "catalogpipe/internal/filesystem"

	// Stat a file with automatic NFS retry
	info, err := filesystem.StatWithRetry("/nfs/mount/file.jpg", filesystem.DefaultRetryConfig())
	if err != nil {
	    log.Fatal(err)
	}

	// Open a file with automatic NFS retry
	file, err := filesystem.OpenWithRetry("/nfs/mount/file.jpg", filesystem.DefaultRetryConfig())
	if err != nil {
	    log.Fatal(err)
	}
	defer file.Close()

Custom retry configuration:

	config := filesystem.RetryConfig{
	    MaxRetries:     5,
	    InitialBackoff: 100 * time.Millisecond,
	    MaxBackoff:     1 * time.Second,
	}
	info, err := filesystem.StatWithRetry(path, config)

# Retry Behavior

The retry logic implements exponential backoff with the following defaults:
  - MaxRetries: 3 attempts
  - InitialBackoff: 50ms
  - MaxBackoff: 500ms

Only NFS stale file handle errors (ESTALE) trigger retries. All other errors
fail immediately without retry attempts.

# Performance

For successful operations, overhead is minimal:
  - StatWithRetry: ~100ns additional overhead vs os.Stat
  - OpenWithRetry: ~150ns additional overhead vs os.Open

Failed operations with retries add backoff delay (50ms → 100ms → 200ms by default).

# Integration

This package is used throughout catalogpipe to provide resilience against
NFS instability on library and cache volumes:

  - internal/cachealloc: VolumeResolver maps a CacheFolder's root path to a
    named volume, used as the volume label on the allocator's cache-folder
    metrics.
  - internal/metrics: the catalog store collector stats the database file
    and its -wal and -shm companions with StatWithRetry, and
    NewFilesystemObserver provides the Observer implementation.
  - cmd/catalogpipe: installs metrics.NewFilesystemObserver with SetObserver
    and builds a VolumeResolver that it passes to the cache allocator; it
    does not call SetDefaultVolumeResolver.
*/
package filesystem
