// Package agent assembles a running membership node from its parts:
// the gossip state machine, the failure detector, the HTTP transport,
// the placement ring, and the persistent event log.
package agent
