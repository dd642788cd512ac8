package membership

// MessageKind discriminates gossip wire messages.
type MessageKind string

const (
	// MsgEvent carries a single gossip event.
	MsgEvent MessageKind = "event"
	// MsgSyncRequest announces the sender's event-count vector and asks
	// for anything missing.
	MsgSyncRequest MessageKind = "sync-req"
	// MsgSyncResponse carries a batch of events the receiver was
	// missing, in an order safe to insert.
	MsgSyncResponse MessageKind = "sync-resp"
)

// Message is the unit the external networking layer ships between
// nodes. Exactly one payload field is set, matching Kind.
type Message struct {
	Kind   MessageKind       `json:"kind"`
	From   string            `json:"from"`
	Event  *Event            `json:"event,omitempty"`
	Clock  map[string]uint64 `json:"clock,omitempty"`
	Events []*Event          `json:"events,omitempty"`
}

// EventMessage wraps a single event for the wire.
func EventMessage(from string, ev *Event) Message {
	return Message{Kind: MsgEvent, From: from, Event: ev}
}

// SyncRequest announces the sender's graph prefix.
func SyncRequest(from string, vector map[string]uint64) Message {
	return Message{Kind: MsgSyncRequest, From: from, Clock: vector}
}

// SyncResponse ships events a peer was missing.
func SyncResponse(from string, events []*Event) Message {
	return Message{Kind: MsgSyncResponse, From: from, Events: events}
}
