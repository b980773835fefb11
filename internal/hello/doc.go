// Package hello implements the LLDP hello protocol driver.
//
// Every polling interval the driver encodes one LLDP frame per operational,
// LLDP-enabled interface (chassis id = datapath id, port id = port number)
// and hands it to a Transport through a bounded worker pool. Received
// frames are decoded by HandleFrame, reported to the topology manager as
// adjacencies and forwarded to the liveness detector. Missing hellos are
// never reported here; timing out is the detector's job.
package hello
