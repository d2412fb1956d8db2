// Package collectionscan is the Collection Scan Worker: it enumerates the
// media inside one Collection (a directory or an archive), reconciles the
// result against the embedded media list, writes the single atomic update
// back to the Catalog Store, and fans out per-item Thumbnail/Cache work.
//
// Reconciliation takes the symmetric difference between scanned and
// embedded items by normalized relative path: new items are appended,
// missing items are dropped together with their thumbnail and cache-image
// entries, and items whose size (or, for
// directory-backed items, modification time) diverged are re-queued.
// Unforced rescans that find no difference mutate nothing and fan out no
// work.
package collectionscan
