// Package httpserver serves the node's admin API over plain HTTP.
//
// Routes:
//
//   - /health, /ready: liveness and readiness, never filtered
//   - /metrics: Prometheus exposition
//   - /v1/*: topology, links and peers, see package handler
//
// /v1 and /metrics sit behind an optional IP allowlist; /v1 is also rate
// limited per client IP. Every request gets an X-Request-ID.
package httpserver
