package reconcile

import (
	"sort"

	"membership/internal/clock"
)

// Range identifies a contiguous run of one creator's events, by
// sequence number, inclusive on both ends.
type Range struct {
	Creator string
	From    uint64
	To      uint64
}

// Diff computes what a peer with the remote vector is missing relative
// to the local vector. The result is sorted by creator for
// deterministic output; an empty result means the peer is up to date.
func Diff(local, remote clock.Vector) []Range {
	out := make([]Range, 0)
	for creator, n := range local {
		have := remote.Get(creator)
		if n > have {
			out = append(out, Range{
				Creator: creator,
				From:    have + 1,
				To:      n,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Creator < out[j].Creator
	})
	return out
}

// MissingCount returns the total number of events covered by the given
// ranges.
func MissingCount(ranges []Range) int {
	n := 0
	for _, r := range ranges {
		n += int(r.To - r.From + 1)
	}
	return n
}

// Behind reports whether the local vector lacks events the remote
// vector announces. Used to decide whether to ask the peer for a sync
// in return.
func Behind(local, remote clock.Vector) bool {
	for creator, n := range remote {
		if local.Get(creator) < n {
			return true
		}
	}
	return false
}
