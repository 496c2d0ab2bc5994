// Package localserver serves the admin API on a Unix domain socket.
//
// Access is governed by the socket file permissions (owner only), so the
// socket skips the network allowlist and rate limit of the TCP listener.
// spanmesh-cli reaches it with --server unix:///path/to/admin.sock.
package localserver
