package transport

import (
	"math/rand"
	"sync"
)

// Registry maps node IDs to their gossip addresses. Addresses arrive
// from seed configuration and from peer exchange piggybacked on gossip
// envelopes.
type Registry struct {
	mu      sync.RWMutex
	localID string
	addrs   map[string]string
}

// NewRegistry creates a registry for the given local node.
func NewRegistry(localID, localAddr string) *Registry {
	return &Registry{
		localID: localID,
		addrs:   map[string]string{localID: localAddr},
	}
}

// Set records the address of a peer. Empty values are ignored.
func (r *Registry) Set(id, addr string) {
	if id == "" || addr == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[id] = addr
}

// Lookup returns the known address of a peer.
func (r *Registry) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.addrs[id]
	return addr, ok
}

// Merge records every peer from the given map.
func (r *Registry) Merge(peers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, addr := range peers {
		if id == "" || addr == "" {
			continue
		}
		r.addrs[id] = addr
	}
}

// Snapshot returns a copy of all known addresses, the local node
// included.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.addrs))
	for id, addr := range r.addrs {
		out[id] = addr
	}
	return out
}

// Targets picks up to k random known peers, the local node excluded.
// Non-members stay eligible: a joining node must be able to reach its
// seeds, and survivors keep gossiping to a peer until its removal is
// decided.
func (r *Registry) Targets(k int) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []string
	for id := range r.addrs {
		if id != r.localID {
			eligible = append(eligible, id)
		}
	}

	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if k > 0 && len(eligible) > k {
		eligible = eligible[:k]
	}

	out := make(map[string]string, len(eligible))
	for _, id := range eligible {
		out[id] = r.addrs[id]
	}
	return out
}
