package transport

import (
	"membership/pkg/membership"
)

// Envelope is the unit shipped in one gossip round-trip. Besides the
// state machine messages it piggybacks the sender's identity and peer
// address table, which is how nodes discover each other's transport
// addresses.
type Envelope struct {
	From     string               `json:"from"`
	Addr     string               `json:"addr"`
	Peers    map[string]string    `json:"peers,omitempty"`
	Messages []membership.Message `json:"messages,omitempty"`
}
