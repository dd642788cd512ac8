package quorum

import "sort"

// Majority returns the smallest strict majority of a group of the given
// size: n/2 + 1. A non-positive size yields 1 so that a lone node can
// still decide about itself.
func Majority(size int) int {
	if size <= 0 {
		return 1
	}
	return size/2 + 1
}

// VoteSet tracks which members have endorsed a single pending
// membership observation. Votes are deduplicated by voter ID.
// Thread-safety is the caller's responsibility.
type VoteSet struct {
	voters map[string]struct{}
}

// NewVoteSet creates an empty vote set.
func NewVoteSet() *VoteSet {
	return &VoteSet{voters: make(map[string]struct{})}
}

// Add records a vote from the given voter. Returns true if this is the
// voter's first vote.
func (vs *VoteSet) Add(voter string) bool {
	if _, ok := vs.voters[voter]; ok {
		return false
	}
	vs.voters[voter] = struct{}{}
	return true
}

// Has reports whether the given voter has already voted.
func (vs *VoteSet) Has(voter string) bool {
	_, ok := vs.voters[voter]
	return ok
}

// Count returns the total number of distinct voters.
func (vs *VoteSet) Count() int {
	return len(vs.voters)
}

// CountAmong returns the number of voters that belong to the given
// group. Votes from nodes outside the group do not count towards a
// decision.
func (vs *VoteSet) CountAmong(group map[string]struct{}) int {
	n := 0
	for voter := range vs.voters {
		if _, ok := group[voter]; ok {
			n++
		}
	}
	return n
}

// Decided reports whether a strict majority of the given group has
// voted.
func (vs *VoteSet) Decided(group map[string]struct{}) bool {
	return vs.CountAmong(group) >= Majority(len(group))
}

// Voters returns the distinct voters in sorted order.
func (vs *VoteSet) Voters() []string {
	out := make([]string, 0, len(vs.voters))
	for v := range vs.voters {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
