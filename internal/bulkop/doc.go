// Package bulkop is the Bulk Operation Worker: it expands one BulkOperation
// job covering many target collections into per-collection (and, for the
// regenerate operations, per-media-item) child work, isolating failures on
// individual targets from the rest of the batch the same way the Scan
// Coordinator isolates per-candidate failures during a library scan.
//
// Four operations are supported: rescan (re-enqueue a CollectionScan per
// target), regenerateThumbnails/regenerateCache (force a Thumbnail or Cache
// derivative message per still-present media item), and purgeCache (release
// the cache-folder bytes backing a target's CacheImage derivatives and drop
// them from the Collection document, synchronously, with no further
// derivative work to wait on).
package bulkop
