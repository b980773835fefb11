// Package repository defines the entity store for topokeeper.
//
// The Store interface covers switches, interfaces, links, their metadata
// maps and the set of interfaces under liveness monitoring. Two backends
// implement it:
//
//   - sqlite: the default, a single-file database in WAL mode
//   - redis: one hash per record with optimistic WATCH transactions
//
// # Start Modes
//
// A clean start calls Reset, leaving every flag false and every metadata map
// empty. A warm start opens the existing store and reloads it unchanged.
//
// # Instrumentation
//
// Instrument wraps any Store and records per-operation latency and error
// counts.
package repository
