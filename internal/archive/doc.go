// Package archive is the Archive Reader: random-access enumeration and
// per-entry byte retrieval over zip, 7z, rar, and tar(.gz) archives.
//
// Entry names are canonicalized at open time (leading slash stripped, ".."
// collapsed, __MACOSX/ and dotfile entries dropped) so callers never see
// archive-native path quirks. A Reader may be safely used by multiple
// goroutines; Pool hands out one Reader per archive path, opening lazily and,
// once the bounded pool is full, closing the oldest-opened handle to make
// room, so a single archive is never opened twice for the same path.
package archive
