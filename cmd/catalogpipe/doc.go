// Command catalogpipe runs the media cataloging and derivative-generation
// pipeline: the Catalog Store, Job Ledger, Message Bus, Ordered Collection
// Index, Scheduler, and the five stage consumers (library scan, collection
// scan, thumbnail, cache, bulk operation), driven by an in-process control
// plane rather than an HTTP API.
//
// # Application lifecycle
//
//  1. Configuration: internal/config.LoadConfig reads and validates
//     environment variables, creating the database and cache directories.
//  2. Storage: the Catalog Store opens its SQLite database, the Job Ledger
//     migrates its tables onto the same connection, the Message Bus opens
//     its bbolt queue database, and the Ordered Collection Index opens its
//     own bbolt database and loads every active collection into its ten
//     sorted sets.
//  3. Domain components: the archive reader pool, cache folder allocator,
//     memory monitor, scan coordinator, collection scan worker, derivative
//     engine, and bulk operation worker are constructed and wired together.
//  4. Background services: the memory monitor, the five stage consumers
//     (each its own goroutine pool), and the scheduler all start.
//  5. Control plane: internal/control.Service is constructed on top of the
//     above, ready for a caller (CLI, admin API, test) to drive.
//  6. Graceful shutdown: SIGINT/SIGTERM cancels a root context, which stops
//     every consumer and the scheduler, after which the catalog store, bus,
//     index, and lease database are closed in turn.
//
// Environment variables are documented in internal/config.
package main
