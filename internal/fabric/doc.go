// Package fabric simulates a cabled switch fabric in-process.
//
// It stands in for the OpenFlow data plane: Connect replays switch
// connections into the topology manager and Send carries hello frames
// between cabled ports. Drop rules discard hellos received by a switch,
// which reproduces a one-directional link failure.
package fabric
