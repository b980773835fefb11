// Package liveness implements the link liveness detector.
//
// Each monitored interface is down until a hello arrives on it and goes
// back down after dead_multiplier polling intervals of silence. Two
// monitored interfaces that exchange hellos form a pair whose status is up
// only while both sides are up. Pair transitions are written to the
// "liveness_status" key of the link between them; if that link has not been
// discovered yet, the write waits for LinkCreated.
package liveness
