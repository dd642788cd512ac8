package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Vector maps a creator ID to the number of that creator's events
// known locally. It summarises a gossip graph prefix: two nodes with
// equal vectors hold the same event set.
// Thread-safety is the caller's responsibility.
type Vector map[string]uint64

// New creates an empty vector.
func New() Vector {
	return make(Vector)
}

// Get returns the counter for the given creator, or 0 if not present.
func (v Vector) Get(creator string) uint64 {
	return v[creator]
}

// Set sets the counter for the given creator.
func (v Vector) Set(creator string, n uint64) {
	v[creator] = n
}

// Increment advances the counter for the given creator by one.
func (v Vector) Increment(creator string) {
	v[creator]++
}

// Merge takes the per-creator maximum of both vectors into v.
func (v Vector) Merge(other Vector) {
	for creator, n := range other {
		if v[creator] < n {
			v[creator] = n
		}
	}
}

// Copy creates a deep copy of the vector.
func (v Vector) Copy() Vector {
	out := New()
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Relation is the result of comparing two vectors.
type Relation int

const (
	// Before indicates this vector is a strict prefix of the other.
	Before Relation = iota
	// After indicates this vector strictly extends the other.
	After
	// Concurrent indicates neither vector dominates the other.
	Concurrent
	// Equal indicates both vectors describe the same event set.
	Equal
)

// Compare relates v to other: Equal if all counters match, Before/After
// if one side dominates, Concurrent otherwise. Missing creators count
// as zero.
func (v Vector) Compare(other Vector) Relation {
	if v.Equal(other) {
		return Equal
	}

	all := make(map[string]struct{}, len(v)+len(other))
	for c := range v {
		all[c] = struct{}{}
	}
	for c := range other {
		all[c] = struct{}{}
	}

	var less, greater bool
	for c := range all {
		a, b := v[c], other[c]
		if a < b {
			less = true
		} else if a > b {
			greater = true
		}
	}

	if less && !greater {
		return Before
	}
	if greater && !less {
		return After
	}
	return Concurrent
}

// Equal reports whether both vectors hold identical counters.
func (v Vector) Equal(other Vector) bool {
	if len(v) != len(other) {
		return false
	}
	for c, n := range v {
		if other[c] != n {
			return false
		}
	}
	return true
}

// Dominates reports whether v strictly extends other.
func (v Vector) Dominates(other Vector) bool {
	return v.Compare(other) == After
}

// String returns a deterministic textual form, e.g. {a:3, b:1}.
func (v Vector) String() string {
	if len(v) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, v[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
