package membership

import (
	"fmt"
)

// Event is a vertex in the gossip graph. SelfParent chains the
// creator's own events (gapless, by Seq); OtherParent references the
// latest remote event merged by the creator. Either parent may be
// absent: a creator's first event has no self-parent, and an event
// created without remote context has no other-parent.
type Event struct {
	Creator     string       `json:"creator"`
	Seq         uint64       `json:"seq"`
	SelfParent  *Hash        `json:"self_parent,omitempty"`
	OtherParent *Hash        `json:"other_parent,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
}

// Hash computes the event's identity digest.
func (e *Event) Hash() (Hash, error) {
	return hashOf(e)
}

// Validate checks structural well-formedness independent of any graph.
func (e *Event) Validate() error {
	if e.Creator == "" {
		return fmt.Errorf("event with empty creator")
	}
	if e.Seq == 0 {
		return fmt.Errorf("event sequence numbers start at 1")
	}
	if e.Seq == 1 && e.SelfParent != nil {
		return fmt.Errorf("first event of %s must not have a self-parent", e.Creator)
	}
	if e.Seq > 1 && e.SelfParent == nil {
		return fmt.Errorf("event %d of %s requires a self-parent", e.Seq, e.Creator)
	}
	if e.Observation != nil {
		if err := e.Observation.Validate(); err != nil {
			return fmt.Errorf("event observation: %w", err)
		}
		if e.Observation.Kind == ObsGenesis && e.Seq != 1 {
			return fmt.Errorf("genesis must be the creator's first event")
		}
	}
	return nil
}
