// Package mediatypes provides shared type definitions and format tables used
// across the ingestion pipeline.
//
// This package exists as a dependency-free foundation that can be imported by
// any stage package without creating import cycles. It contains primitive
// types, constants, and pure utility functions with no external dependencies
// beyond the standard library.
//
// # Media kind
//
// Every MediaItem is classified into a Kind based on its extension:
//
//	kind := mediatypes.KindOf(ext)
//
// # Collection kind
//
// A Collection is either a directory or one of four archive formats. Archive
// kinds always report useDirectFileAccess=false (see the Collection
// invariants).
//
// # Presets
//
// ThumbnailPreset and CachePreset describe the output parameters for a
// derivative: target dimensions, encode format, and quality. Defaults match
// the recognized configuration options.
package mediatypes
