// Package reconcile computes the difference between two gossip graph
// prefixes, expressed as event-count vectors. It tells a node which
// event ranges a peer is missing and whether the node itself is
// behind, which drives the sync request/response exchange.
package reconcile
