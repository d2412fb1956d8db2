// Package walker is the Filesystem Walker: recursive directory traversal
// with format/size filtering, exclusion globs, and stable ordering.
//
// Entries are returned in lexicographic, case-folded order so repeated
// walks over an unchanged tree produce identical insertionOrder sequences.
// An optional fsnotify watch can be layered on top to trigger a rescan
// without waiting for the Scheduler's next interval.
package walker
