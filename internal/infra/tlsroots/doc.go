// Package tlsroots loads trust roots and serves hot-reloaded key pairs for
// the admin API: HTTPS on the server side, CA pinning and client
// certificates on the spanmesh-cli side.
package tlsroots
