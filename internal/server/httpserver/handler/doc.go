// Package handler provides the admin API handlers.
//
// Endpoints:
//
//   - GET  /health, /ready
//   - GET  /v1/status: node identity, build and link counts
//   - GET  /v1/spans: the cluster/node/link tree
//   - GET  /v1/conns: registered links
//   - POST /v1/conns/{id}/ping: round trip over one link
//   - GET  /v1/peers, POST /v1/peers: dialed peers and gossip members
//
// Every JSON response uses the Response envelope.
package handler
