package membership

import (
	"fmt"
	"sync"

	"membership/internal/clock"
)

// UnknownParentError reports an event that references a parent this
// graph has not seen yet. The caller is expected to buffer the event
// and request a sync.
type UnknownParentError struct {
	Parent Hash
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("unknown parent event %s", e.Parent.Short())
}

// ForkError reports two distinct events claiming the same (creator,
// seq) slot. Under the crash-stop model this indicates a buggy or
// equivocating peer; the offending event is rejected.
type ForkError struct {
	Creator string
	Seq     uint64
}

func (e *ForkError) Error() string {
	return fmt.Sprintf("fork: second event for %s at seq %d", e.Creator, e.Seq)
}

// EventRef is an event stored in a graph, together with its hash and
// insertion index.
type EventRef struct {
	Event *Event
	Hash  Hash
	Index int
}

// Graph is an append-only gossip graph. Events are deduplicated by
// hash and only accepted when their parents are already present, so
// iteration in insertion order always yields parents before children.
type Graph struct {
	mu        sync.RWMutex
	events    []*EventRef
	indices   map[Hash]int
	byCreator map[string][]int
}

// NewGraph constructs an empty gossip graph.
func NewGraph() *Graph {
	return &Graph{
		indices:   make(map[Hash]int),
		byCreator: make(map[string][]int),
	}
}

// Insert adds an event to the graph. It returns the stored reference
// and whether the event was newly inserted; inserting an event that is
// already present is a no-op. An event whose self-parent or
// other-parent is unknown fails with *UnknownParentError; a second
// event claiming an occupied (creator, seq) slot fails with
// *ForkError.
func (g *Graph) Insert(ev *Event) (*EventRef, bool, error) {
	if err := ev.Validate(); err != nil {
		return nil, false, err
	}
	h, err := ev.Hash()
	if err != nil {
		return nil, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if idx, ok := g.indices[h]; ok {
		return g.events[idx], false, nil
	}

	chain := g.byCreator[ev.Creator]
	expected := uint64(len(chain)) + 1
	switch {
	case ev.Seq < expected:
		// The slot is taken by a different event with the same seq.
		return nil, false, &ForkError{Creator: ev.Creator, Seq: ev.Seq}
	case ev.Seq > expected:
		// A gap: the self-parent chain below this event is incomplete.
		return nil, false, &UnknownParentError{Parent: *ev.SelfParent}
	}

	if ev.SelfParent != nil {
		idx, ok := g.indices[*ev.SelfParent]
		if !ok {
			return nil, false, &UnknownParentError{Parent: *ev.SelfParent}
		}
		if idx != chain[len(chain)-1] {
			return nil, false, &ForkError{Creator: ev.Creator, Seq: ev.Seq}
		}
	}
	if ev.OtherParent != nil {
		if _, ok := g.indices[*ev.OtherParent]; !ok {
			return nil, false, &UnknownParentError{Parent: *ev.OtherParent}
		}
	}

	ref := &EventRef{Event: ev, Hash: h, Index: len(g.events)}
	g.events = append(g.events, ref)
	g.indices[h] = ref.Index
	g.byCreator[ev.Creator] = append(chain, ref.Index)
	return ref, true, nil
}

// Get returns the event with the given hash, if present.
func (g *Graph) Get(h Hash) (*EventRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.indices[h]
	if !ok {
		return nil, false
	}
	return g.events[idx], true
}

// Contains reports whether the graph holds an event with the given hash.
func (g *Graph) Contains(h Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.indices[h]
	return ok
}

// Len returns the number of events in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.events)
}

// Head returns the latest event by the given creator, if any.
func (g *Graph) Head(creator string) (*EventRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	chain := g.byCreator[creator]
	if len(chain) == 0 {
		return nil, false
	}
	return g.events[chain[len(chain)-1]], true
}

// Clock returns the graph's event-count vector: one counter per
// creator.
func (g *Graph) Clock() clock.Vector {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := clock.New()
	for creator, chain := range g.byCreator {
		v.Set(creator, uint64(len(chain)))
	}
	return v
}

// EventsSince returns, in insertion order, every event beyond the
// given remote vector. Because insertion order is parent-closed, the
// filtered slice can be inserted by the remote side front to back.
// A non-positive limit means no limit.
func (g *Graph) EventsSince(remote clock.Vector, limit int) []*Event {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Event, 0)
	for _, ref := range g.events {
		if ref.Event.Seq > remote.Get(ref.Event.Creator) {
			out = append(out, ref.Event)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Ancestors returns every ancestor of the given event, the event
// itself excluded, by walking both parent links.
func (g *Graph) Ancestors(ref *EventRef) []*EventRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[int]struct{})
	var out []*EventRef

	queue := g.parentIndices(ref.Event)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}

		cur := g.events[idx]
		out = append(out, cur)
		queue = append(queue, g.parentIndices(cur.Event)...)
	}
	return out
}

// parentIndices resolves an event's parent hashes to graph indices.
// Must be called with the lock held.
func (g *Graph) parentIndices(ev *Event) []int {
	var out []int
	if ev.SelfParent != nil {
		if idx, ok := g.indices[*ev.SelfParent]; ok {
			out = append(out, idx)
		}
	}
	if ev.OtherParent != nil {
		if idx, ok := g.indices[*ev.OtherParent]; ok {
			out = append(out, idx)
		}
	}
	return out
}
