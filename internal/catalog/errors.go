package catalog

import "errors"

// Sentinel errors surfaced by the Catalog Store.
var (
	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("catalog: not found")
	// ErrDuplicatePath is a validation error: (libraryId, path) already exists.
	ErrDuplicatePath = errors.New("catalog: duplicate collection path")
	// ErrVersionConflict is returned by UpdateCollection when the stored
	// version does not match the expected version (compare-and-set failure).
	ErrVersionConflict = errors.New("catalog: version conflict")
	// ErrValidation wraps a rejected-before-side-effects input error.
	ErrValidation = errors.New("catalog: validation error")
)
