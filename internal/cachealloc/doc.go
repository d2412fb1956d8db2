// Package cachealloc is the Cache-Folder Allocator: it picks which
// configured cache folder should receive a derivative's bytes and keeps
// each folder's usage accounting and reachability status current.
//
// Selection: among active folders with enough headroom for the output
// size, prefer the highest priority, then the lowest current fill ratio.
// A reachability probe (stat-and-read of the folder root) can mark a
// folder inactive so the allocator stops routing to storage that has gone
// away underneath it.
package cachealloc
