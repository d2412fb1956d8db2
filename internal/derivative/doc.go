// Package derivative is the Derivative Engine: it turns one media item's
// source bytes into a thumbnail or resized cache image and writes the
// result into a cache folder chosen by internal/cachealloc, then updates
// the owning Collection document under optimistic concurrency control.
//
// The engine composes internal/codec (decode/resize/encode),
// internal/archive (streaming bytes out of archive entries),
// internal/cachealloc (destination selection and byte accounting) and
// internal/catalog (the authoritative write-back). It classifies its own
// failures into retryable (IOFailed, NoCacheSpace) and non-retryable
// (DecodeFailed, EncodeFailed, CorruptSource) buckets so a caller driving
// retries from the Job Ledger knows which to requeue.
package derivative
