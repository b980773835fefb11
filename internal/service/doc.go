// Package service implements business logic for the topokeeper controller.
//
// This package provides service layers that coordinate between the HTTP handlers,
// the hello driver, the liveness detector and the repository layer, implementing
// the topology state machine, validation, and event publishing.
//
// # Services
//
// TopologyService owns switches, interfaces and links: discovery
// (HandleSwitchUp, HandleAdjacency), enable/disable with their preconditions,
// administrative deletion and metadata. It is the only path that writes the
// reserved "liveness_status" link key, on behalf of the liveness detector.
//
// LLDPService manages the liveness monitoring set (persisted so that it
// survives a warm restart), the hello polling interval and the per-interface
// hello allow list.
//
// # Concurrency
//
// Mutations are serialized per entity id by a keyed mutex. Operations that
// touch several entities lock all their ids in sorted order. Reads go straight
// to the store.
//
// # Event System
//
// All services publish events via EventBus for real-time updates to connected
// clients via Server-Sent Events (SSE).
package service
