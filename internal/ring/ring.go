package ring

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// vnode is a virtual point on the ring owned by one member.
type vnode struct {
	hash   uint32
	member string
}

// Ring maps keys onto the current group members using consistent
// hashing with virtual nodes. It is rebuilt from the effective member
// set whenever membership changes.
type Ring struct {
	mu            sync.RWMutex
	vnodesPerNode int
	vnodes        []vnode
	members       map[string]struct{}
}

// New creates an empty ring.
func New(vnodesPerNode int) *Ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = 128
	}
	return &Ring{
		vnodesPerNode: vnodesPerNode,
		members:       make(map[string]struct{}),
	}
}

// SetMembers rebuilds the ring from the given member set. The rebuild
// is deterministic: the same members always produce the same ring.
func (r *Ring) SetMembers(members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]struct{}, len(members))
	r.vnodes = r.vnodes[:0]

	for _, id := range members {
		if _, dup := r.members[id]; dup {
			continue
		}
		r.members[id] = struct{}{}
		for i := 0; i < r.vnodesPerNode; i++ {
			r.vnodes = append(r.vnodes, vnode{
				hash:   hashString(fmt.Sprintf("%s-vnode-%d", id, i)),
				member: id,
			})
		}
	}

	sort.Slice(r.vnodes, func(i, j int) bool {
		return r.vnodes[i].hash < r.vnodes[j].hash
	})
}

// Owner returns the member responsible for the given key. The second
// result is false when the ring is empty.
func (r *Ring) Owner(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 {
		return "", false
	}

	keyHash := hashString(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= keyHash
	})
	if idx >= len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].member, true
}

// Preference returns the first k distinct members encountered walking
// the ring clockwise from the key's position.
func (r *Ring) Preference(key string, k int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || k <= 0 {
		return []string{}
	}

	keyHash := hashString(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= keyHash
	})
	if idx >= len(r.vnodes) {
		idx = 0
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, k)
	for i := 0; i < len(r.vnodes) && len(out) < k; i++ {
		member := r.vnodes[(idx+i)%len(r.vnodes)].member
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		out = append(out, member)
	}
	return out
}

// Members returns the members currently on the ring, sorted.
func (r *Ring) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Size returns the number of distinct members on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// hashString computes a 32-bit FNV-1a hash of the string.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
