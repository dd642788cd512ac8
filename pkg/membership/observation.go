package membership

import (
	"fmt"
	"sort"
)

// ObservationKind discriminates membership claims.
type ObservationKind string

const (
	// ObsGenesis fixes the founding member set of the group.
	ObsGenesis ObservationKind = "genesis"
	// ObsAdd proposes adding a node to the group.
	ObsAdd ObservationKind = "add"
	// ObsRemove proposes removing a node from the group.
	ObsRemove ObservationKind = "remove"
)

// Observation is a membership claim carried by a gossip event.
type Observation struct {
	Kind ObservationKind `json:"kind"`
	// Members is the founding member set; genesis only, sorted.
	Members []string `json:"members,omitempty"`
	// Node is the subject of an add or remove.
	Node string `json:"node,omitempty"`
}

// Genesis builds a genesis observation. The member list is sorted and
// deduplicated so the observation encodes canonically.
func Genesis(members []string) *Observation {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return &Observation{Kind: ObsGenesis, Members: out}
}

// Add builds an add observation for the given node.
func Add(node string) *Observation {
	return &Observation{Kind: ObsAdd, Node: node}
}

// Remove builds a remove observation for the given node.
func Remove(node string) *Observation {
	return &Observation{Kind: ObsRemove, Node: node}
}

// Validate checks structural well-formedness.
func (o *Observation) Validate() error {
	switch o.Kind {
	case ObsGenesis:
		if len(o.Members) == 0 {
			return fmt.Errorf("genesis observation with no members")
		}
		if o.Node != "" {
			return fmt.Errorf("genesis observation must not name a node")
		}
		if !sort.StringsAreSorted(o.Members) {
			return fmt.Errorf("genesis members not sorted")
		}
	case ObsAdd, ObsRemove:
		if o.Node == "" {
			return fmt.Errorf("%s observation with empty node", o.Kind)
		}
		if len(o.Members) != 0 {
			return fmt.Errorf("%s observation must not carry a member list", o.Kind)
		}
	default:
		return fmt.Errorf("unknown observation kind %q", o.Kind)
	}
	return nil
}

// String returns a compact textual form for logs.
func (o *Observation) String() string {
	switch o.Kind {
	case ObsGenesis:
		return fmt.Sprintf("genesis(%v)", o.Members)
	default:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Node)
	}
}
