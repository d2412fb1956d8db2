// Package index implements the Ordered Collection Index: a redis-style
// sorted-set secondary index over active Collections, supporting
// multi-attribute sort (updatedAt/createdAt/displayName/imageCount/
// totalBytes, each ascending or descending) with secondary filters by
// library and media kind.
//
// Ten google/btree.BTreeG sorted sets (one per sortKey x direction) hold
// Entry values in memory; a companion map holds the Entry per collection id.
// A bbolt database persists the entries across restarts in two buckets:
// idx:entry (one encoded Entry per collection id) and idx:meta (the entry
// count). Open rebuilds the in-memory sorted sets from the stored entries,
// so a restart needs a full Rebuild only when the stored entry count
// diverges from the catalog's beyond the configured threshold.
package index
