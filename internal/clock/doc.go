// Package clock provides the event-count vectors used to summarise a
// node's gossip graph. A vector carries one counter per event creator
// and captures happened-before relationships between graph prefixes,
// which drives anti-entropy: peers exchange vectors and ship only the
// events the other side is missing.
package clock
