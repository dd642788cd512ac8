// Package store persists the gossip event log so a restarted agent
// can rebuild its graph without refetching history from peers.
package store
