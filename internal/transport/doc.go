// Package transport carries gossip envelopes between agents over HTTP
// and serves the read-only member, ring, and health endpoints.
package transport
