// Package main provides the entry point for spanmesh-server.
//
// The server joins the span mesh:
//
//   - accepts and dials links, optionally encrypted with a pre-shared key
//   - announces the local node and relays the spanning tree
//   - discovers peers over gossip and dials those it owns
//   - serves the admin API and Prometheus metrics
//
// Usage:
//
//	spanmesh-server [flags]
//	spanmesh-server --config /etc/spanmesh/server.yaml
package main
