// Package domain defines the error taxonomy shared by the spanmesh
// transport, transaction and topology layers.
//
// Errors are grouped by the layer that raises them:
//
//   - FRM: framing errors (magic, field sizes, CRCs, sequence). Fatal to a link.
//   - SOK: socket errors. Fatal to a link.
//   - TRN: transaction protocol errors. Reported to the peer, link survives.
//   - CFG: configuration errors.
//   - SYS: internal errors.
package domain
