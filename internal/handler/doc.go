// Package handler implements HTTP request handlers for the topokeeper API.
//
// # Handlers
//
// TopologyHandler serves /api/topology/v3: switch, interface and link
// listings, enable/disable toggles, administrative deletion and metadata.
//
// LLDPHandler serves /api/lldp/v1: liveness monitoring, liveness pairs, the
// hello polling interval and the per-interface hello allow list. Its paths
// are accepted with or without a trailing slash.
//
// Middleware provides panic recovery, CORS, request logging with request
// ids, and request metrics.
//
// # Response Format
//
// Switch and link toggles answer 201, interface toggles 200. Errors are
// returned as JSON {error, details}; StatusFor maps not-found to 404,
// precondition failures to 409, validation failures to 400 and store
// outages to 503.
package handler
