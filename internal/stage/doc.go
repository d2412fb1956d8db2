// Package stage wires each of the five pipeline stages — library scan,
// collection scan, thumbnail, cache, bulk op — onto the generic
// internal/worker substrate, one Worker Consumer per stage: it decodes a
// bus.Message's payload into the matching domain request type
// and invokes the corresponding domain package (internal/scancoord,
// internal/collectionscan, internal/derivative, internal/bulkop).
//
// This package owns no business logic of its own beyond payload decoding;
// every invariant, retry, and write-back rule lives in the package each
// handler delegates to.
package stage
