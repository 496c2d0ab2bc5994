// Package linkserver accepts and dials spanmesh links.
//
// Every TCP connection starts with a clear-text hello exchange carrying
// both node ids and salts. When a link key is configured both ends derive
// per-direction keys from it and install an AEAD record filter before the
// first frame; a key confirmation record rejects peers holding another
// key. The connection is then registered with the span registry and run
// until it fails. Configured peers are redialed, rate limited by a token
// bucket.
package linkserver
