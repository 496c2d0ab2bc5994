// Package adaptive provides the AEAD ciphers protecting spanmesh links.
//
//   - cipher.go: AES-256-GCM and ChaCha20-Poly1305 behind one interface,
//     with hardware based selection
//   - kdf.go: HKDF-SHA256 derivation of per-direction link keys
//   - record.go: a length-prefixed record layer usable as a link filter
//
// Record layout on the wire:
//
//	+--------+---------------------------+
//	| len u32 LE | sealed(plaintext) + tag |
//	+--------+---------------------------+
//
// Nonces are per-direction record counters, so a key must never be used
// for more than one link direction.
package adaptive
