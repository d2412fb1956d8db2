// Package scancoord is the Scan Coordinator: it turns a LibraryScan
// request into a tree of Job Ledger entries and CollectionScan messages.
//
// BeginLibraryScan walks a library's root one directory level deep with
// the Filesystem Walker, classifying each entry as a directory or archive
// candidate collection, creating Catalog Store records for new
// candidates, and publishing a CollectionScan message on the Message Bus
// for every candidate that is new or whose signature changed (or whose
// scan is forced). A non-terminal LibraryScan job for the same library
// coalesces new requests into itself rather than starting a second scan.
package scancoord
