// Package identity persists the node identity in a Badger database.
//
// A node keeps the same UUID across restarts so that the span it announces
// replaces its previous announcement on every peer instead of appearing as
// a second node. The record is created on first start and only its label
// and boot counter change afterwards.
package identity
