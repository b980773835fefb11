// Package domain defines the core types of the topokeeper controller.
//
// # Entities
//
// Switch is a forwarding device identified by its OpenFlow datapath id
// (xx:xx:xx:xx:xx:xx:xx:xx). It owns a set of interfaces and a metadata map.
//
// Interface is a switch port with id "<switch_id>:<port_number>". It is
// operational (Active) only while both it and its switch are enabled.
//
// Link is an undirected adjacency between two interfaces. Its id is derived
// from the sorted endpoint ids, so Link(a, b) and Link(b, a) are the same
// record.
//
// # Liveness
//
// LivenessStatus, InterfaceLiveness and LivenessPair describe the state the
// liveness detector keeps for monitored interfaces. The detector is the only
// writer of the "liveness_status" link metadata key.
//
// # Errors
//
// PreconditionError, NotFoundError and ValidationError unwrap to sentinel
// errors so callers and the HTTP layer can match with errors.Is.
// ErrStoreUnavailable marks retryable persistence failures.
package domain
