// Package hub streams controller events to browser and CLI clients over
// server-sent events.
package hub
