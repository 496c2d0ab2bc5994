// Package clusterserver discovers link peers over gossip.
//
// Every node runs a memberlist agent whose node name is its node UUID and
// whose metadata carries the address of its link listener. When a member
// joins, the node with the lower UUID dials the other one, so each pair
// of nodes ends up with one link regardless of who found whom first.
//
// memberlist logs through an hclog bridge onto the node's slog logger.
package clusterserver
