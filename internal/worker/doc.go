// Package worker is the Worker Consumer substrate shared by every pipeline
// stage: a fixed-size pool of goroutines that pulls messages off
// one Message Bus topic with manual acknowledgment, invokes a stage-supplied
// Handler, and reconciles the outcome against the Job Ledger — completing the
// message's job on success, leaving it Running for an automatic bus-level
// retry on a transient failure, and failing the job once the bus dead-letters
// the message after its retry budget is exhausted.
//
// internal/stage builds the five concrete per-stage consumers on top of this
// substrate; this package knows nothing about collections, thumbnails, or
// any other domain concept.
package worker
