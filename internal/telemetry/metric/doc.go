// Package metric provides Prometheus metrics for spanmesh.
//
// Metrics cover the link layer (frames, bytes, framing errors, open
// transactions) and the topology layer (clusters, nodes, links, relays).
// They are exposed at /metrics on the admin listener.
package metric
