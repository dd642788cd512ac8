package membership

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"membership/internal/clock"
	"membership/internal/detector"
	"membership/internal/quorum"
	"membership/internal/reconcile"
)

// FailureDetector is the interface to a local node failure detector.
// It is local: it only uses knowledge available on the node it runs
// on. The default implementation is heartbeat based.
type FailureDetector interface {
	// Track starts watching a peer for failures.
	Track(id string)
	// Forget stops watching a peer.
	Forget(id string)
	// Observe records liveness evidence for a peer.
	Observe(id string)
	// PollFailures finds any new failures and appends them to the
	// failure queue.
	PollFailures() error
	// DequeueFailures takes any unhandled failures for processing and
	// removes them from the queue.
	DequeueFailures() []string
}

// ErrAlreadyBootstrapped is returned by Bootstrap when a genesis has
// already been applied.
var ErrAlreadyBootstrapped = errors.New("membership: group already bootstrapped")

// Config configures a NodeMembership state machine.
type Config struct {
	// LocalID is this node's identity. Required.
	LocalID string
	// SuspectTimeout and DeadTimeout parameterise the default failure
	// detector. Ignored when Detector is set.
	SuspectTimeout time.Duration
	DeadTimeout    time.Duration
	// Detector overrides the default heartbeat failure detector.
	Detector FailureDetector
	// MaxSyncBatch caps the number of events shipped in one sync
	// response. Defaults to 256.
	MaxSyncBatch int
	// Logger is used for state transitions. Defaults to a nop logger.
	Logger zerolog.Logger
}

// NodeMembership is the replicated state of node group membership: a
// gossip graph plus the vote accounting that turns observations into
// effective group changes.
//
// Hooks are invoked while internal locks are held and must not call
// back into the state machine.
type NodeMembership struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	graph *Graph
	fd    FailureDetector

	// Decision state, keyed by observation event hash.
	observations map[Hash]*Observation
	votes        map[Hash]*quorum.VoteSet
	decided      map[Hash]struct{}
	// pendingAt maps an event hash to the undecided observation events
	// in its ancestry (itself included).
	pendingAt map[Hash][]Hash

	hasGenesis bool
	genesis    map[string]struct{}
	added      map[string]struct{}
	removed    map[string]struct{}

	// lastRemote is the most recently accepted remote event, used as
	// other-parent for locally created events.
	lastRemote *Hash

	// orphans buffers events waiting for a missing parent.
	orphans map[Hash][]*Event

	restoring     bool
	onEvent       func(*Event)
	onGroupChange func([]string)
	onDecision    func(*Observation)
}

// New constructs a NodeMembership for the given configuration.
func New(cfg Config) *NodeMembership {
	if cfg.MaxSyncBatch <= 0 {
		cfg.MaxSyncBatch = 256
	}

	fd := cfg.Detector
	if fd == nil {
		fd = detector.NewHeartbeat(cfg.LocalID, cfg.SuspectTimeout, cfg.DeadTimeout,
			detector.WithLogger(cfg.Logger))
	}

	return &NodeMembership{
		cfg:          cfg,
		log:          cfg.Logger,
		graph:        NewGraph(),
		fd:           fd,
		observations: make(map[Hash]*Observation),
		votes:        make(map[Hash]*quorum.VoteSet),
		decided:      make(map[Hash]struct{}),
		pendingAt:    make(map[Hash][]Hash),
		genesis:      make(map[string]struct{}),
		added:        make(map[string]struct{}),
		removed:      make(map[string]struct{}),
		orphans:      make(map[Hash][]*Event),
	}
}

// SetEventHook registers a callback invoked once for every event
// accepted into the graph, local or remote. Used for persistence.
func (nm *NodeMembership) SetEventHook(fn func(*Event)) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.onEvent = fn
}

// SetGroupChangeHook registers a callback invoked with the new member
// set whenever the effective group changes.
func (nm *NodeMembership) SetGroupChangeHook(fn func([]string)) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.onGroupChange = fn
}

// SetDecisionHook registers a callback invoked once per applied
// decision: the genesis and every decided add or remove. Void
// decisions, such as an add for an already-removed node, do not fire
// the hook.
func (nm *NodeMembership) SetDecisionHook(fn func(*Observation)) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.onDecision = fn
}

// Graph returns the underlying gossip graph.
func (nm *NodeMembership) Graph() *Graph {
	return nm.graph
}

// Detector returns the failure detector in use.
func (nm *NodeMembership) Detector() FailureDetector {
	return nm.fd
}

// Bootstrap creates the genesis event fixing the founding member set
// and applies it immediately. The local node is included even when
// absent from members. Returns the event message to gossip.
func (nm *NodeMembership) Bootstrap(members []string) (Message, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.hasGenesis {
		return Message{}, ErrAlreadyBootstrapped
	}
	if _, ok := nm.graph.Head(nm.cfg.LocalID); ok {
		return Message{}, fmt.Errorf("membership: genesis must be the first local event")
	}

	return nm.createLocalEvent(Genesis(append([]string{nm.cfg.LocalID}, members...)))
}

// ProposeAdd creates a local event observing that node should join the
// group. Returns the event message to gossip.
func (nm *NodeMembership) ProposeAdd(node string) (Message, error) {
	if node == "" {
		return Message{}, fmt.Errorf("membership: empty node ID")
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if _, gone := nm.removed[node]; gone {
		return Message{}, fmt.Errorf("membership: %s was removed and cannot rejoin under the same ID", node)
	}
	return nm.createLocalEvent(Add(node))
}

// ProposeRemove creates a local event observing that node should leave
// the group. Returns the event message to gossip.
func (nm *NodeMembership) ProposeRemove(node string) (Message, error) {
	if node == "" {
		return Message{}, fmt.Errorf("membership: empty node ID")
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.createLocalEvent(Remove(node))
}

// Poll queries the failure detector for any new failures and outputs
// messages for the networking layer to send to remote nodes: a remove
// proposal per newly failed member plus a sync request announcing the
// local graph prefix.
func (nm *NodeMembership) Poll() ([]Message, error) {
	if err := nm.fd.PollFailures(); err != nil {
		return nil, fmt.Errorf("membership: poll failure detector: %w", err)
	}
	failures := nm.fd.DequeueFailures()

	nm.mu.Lock()
	defer nm.mu.Unlock()

	var out []Message
	for _, id := range failures {
		if !nm.inGroupLocked(id) {
			continue
		}
		msg, err := nm.createLocalEvent(Remove(id))
		if err != nil {
			return out, fmt.Errorf("membership: propose removal of failed %s: %w", id, err)
		}
		nm.log.Info().Str("peer", id).Msg("proposing removal of failed member")
		out = append(out, msg)
	}

	out = append(out, SyncRequest(nm.cfg.LocalID, nm.graph.Clock()))
	return out, nil
}

// HandleMessage handles an incoming message from the networking layer
// and returns any messages to send back.
func (nm *NodeMembership) HandleMessage(msg Message) ([]Message, error) {
	if msg.From != "" {
		nm.fd.Observe(msg.From)
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	switch msg.Kind {
	case MsgEvent:
		if msg.Event == nil {
			return nil, fmt.Errorf("membership: event message without event")
		}
		return nm.acceptRemote(msg.Event)

	case MsgSyncRequest:
		return nm.handleSyncRequest(msg)

	case MsgSyncResponse:
		var out []Message
		for _, ev := range msg.Events {
			replies, err := nm.acceptRemote(ev)
			if err != nil {
				return out, err
			}
			out = append(out, replies...)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("membership: unknown message kind %q", msg.Kind)
	}
}

// Group returns the currently known group members, sorted.
func (nm *NodeMembership) Group() []string {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	set := nm.groupLocked()
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether the given node is currently a group member.
func (nm *NodeMembership) Contains(id string) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.inGroupLocked(id)
}

// PendingObservations returns the number of undecided observations.
func (nm *NodeMembership) PendingObservations() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.observations) - len(nm.decided)
}

// Restore replays persisted events into an empty state machine without
// emitting messages or invoking the event hook. Events must arrive in
// their original insertion order.
func (nm *NodeMembership) Restore(events []*Event) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.restoring = true
	defer func() { nm.restoring = false }()

	for _, ev := range events {
		ref, inserted, err := nm.graph.Insert(ev)
		if err != nil {
			return fmt.Errorf("membership: restore: %w", err)
		}
		if inserted {
			nm.applyEvent(ref)
		}
	}
	return nil
}

// ---- internals ----

// handleSyncRequest answers a peer's prefix announcement: ship what
// the peer is missing, and ask for a sync in return when the peer is
// ahead.
func (nm *NodeMembership) handleSyncRequest(msg Message) ([]Message, error) {
	local := nm.graph.Clock()
	remote := clock.Vector(msg.Clock)

	var out []Message
	if missing := reconcile.Diff(local, remote); len(missing) > 0 {
		events := nm.graph.EventsSince(remote, nm.cfg.MaxSyncBatch)
		out = append(out, SyncResponse(nm.cfg.LocalID, events))
		nm.log.Debug().
			Str("peer", msg.From).
			Int("events", len(events)).
			Int("missing", reconcile.MissingCount(missing)).
			Msg("answering sync request")
	}
	if reconcile.Behind(local, remote) {
		out = append(out, SyncRequest(nm.cfg.LocalID, local))
	}
	return out, nil
}

// acceptRemote inserts a remote event, drains any orphans unblocked by
// it, and emits acknowledgment events for pending observations the
// local node has not endorsed yet.
func (nm *NodeMembership) acceptRemote(ev *Event) ([]Message, error) {
	var out []Message

	ref, inserted, err := nm.graph.Insert(ev)
	var unknown *UnknownParentError
	switch {
	case errors.As(err, &unknown):
		// Buffer and ask the sender's side for our missing prefix.
		nm.orphans[unknown.Parent] = append(nm.orphans[unknown.Parent], ev)
		out = append(out, SyncRequest(nm.cfg.LocalID, nm.graph.Clock()))
		return out, nil
	case err != nil:
		var fork *ForkError
		if errors.As(err, &fork) {
			nm.log.Warn().Str("creator", fork.Creator).Uint64("seq", fork.Seq).Msg("rejected forked event")
			return nil, nil
		}
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	nm.lastRemote = &ref.Hash
	nm.emitEvent(ev)
	nm.applyEvent(ref)
	out = append(out, nm.drainOrphans(ref.Hash)...)
	out = append(out, nm.acknowledge(ref)...)
	return out, nil
}

// drainOrphans re-inserts events that were waiting for the given
// parent.
func (nm *NodeMembership) drainOrphans(parent Hash) []Message {
	waiting, ok := nm.orphans[parent]
	if !ok {
		return nil
	}
	delete(nm.orphans, parent)

	var out []Message
	for _, ev := range waiting {
		replies, err := nm.acceptRemote(ev)
		if err != nil {
			nm.log.Warn().Err(err).Msg("dropping buffered event")
			continue
		}
		out = append(out, replies...)
	}
	return out
}

// acknowledge creates a local ack event when the received event
// carries pending observations the local node has not voted on. The
// ack's ancestry then carries the local vote to every peer.
func (nm *NodeMembership) acknowledge(ref *EventRef) []Message {
	if nm.restoring || !nm.inGroupLocked(nm.cfg.LocalID) {
		return nil
	}

	needsAck := false
	for _, oh := range nm.pendingAt[ref.Hash] {
		if vs, ok := nm.votes[oh]; ok && !vs.Has(nm.cfg.LocalID) {
			needsAck = true
			break
		}
	}
	if !needsAck {
		return nil
	}

	msg, err := nm.createLocalEventWithOther(nil, &ref.Hash)
	if err != nil {
		nm.log.Warn().Err(err).Msg("failed to create ack event")
		return nil
	}
	return []Message{msg}
}

// createLocalEvent creates, inserts and applies a local event with the
// given observation, merging the latest accepted remote event.
func (nm *NodeMembership) createLocalEvent(obs *Observation) (Message, error) {
	return nm.createLocalEventWithOther(obs, nm.lastRemote)
}

func (nm *NodeMembership) createLocalEventWithOther(obs *Observation, other *Hash) (Message, error) {
	ev := &Event{
		Creator:     nm.cfg.LocalID,
		Seq:         1,
		Observation: obs,
	}
	if head, ok := nm.graph.Head(nm.cfg.LocalID); ok {
		ev.Seq = head.Event.Seq + 1
		h := head.Hash
		ev.SelfParent = &h
		if other != nil && *other != h {
			ev.OtherParent = other
		}
	} else if other != nil {
		ev.OtherParent = other
	}

	ref, inserted, err := nm.graph.Insert(ev)
	if err != nil {
		return Message{}, err
	}
	if !inserted {
		return Message{}, fmt.Errorf("membership: duplicate local event at seq %d", ev.Seq)
	}

	nm.emitEvent(ev)
	nm.applyEvent(ref)
	return EventMessage(nm.cfg.LocalID, ev), nil
}

// applyEvent propagates pending observations through the new event's
// ancestry, registers any observation the event carries, counts the
// creator's endorsements and applies decisions.
func (nm *NodeMembership) applyEvent(ref *EventRef) {
	ev := ref.Event

	pending := nm.inheritedPending(ev)

	if obs := ev.Observation; obs != nil {
		if obs.Kind == ObsGenesis {
			nm.applyGenesis(obs)
		} else {
			if _, known := nm.observations[ref.Hash]; !known {
				nm.observations[ref.Hash] = obs
				nm.votes[ref.Hash] = quorum.NewVoteSet()
			}
			pending = append(pending, ref.Hash)
		}
	}

	for _, oh := range pending {
		if _, done := nm.decided[oh]; done {
			continue
		}
		nm.votes[oh].Add(ev.Creator)
		nm.checkDecision(oh)
	}

	// Keep only still-undecided observations on the event.
	kept := pending[:0]
	for _, oh := range pending {
		if _, done := nm.decided[oh]; !done {
			kept = append(kept, oh)
		}
	}
	if len(kept) > 0 {
		nm.pendingAt[ref.Hash] = kept
	}
}

// inheritedPending unions the undecided observations of both parents.
func (nm *NodeMembership) inheritedPending(ev *Event) []Hash {
	seen := make(map[Hash]struct{})
	var out []Hash
	collect := func(parent *Hash) {
		if parent == nil {
			return
		}
		for _, oh := range nm.pendingAt[*parent] {
			if _, done := nm.decided[oh]; done {
				continue
			}
			if _, dup := seen[oh]; dup {
				continue
			}
			seen[oh] = struct{}{}
			out = append(out, oh)
		}
	}
	collect(ev.SelfParent)
	collect(ev.OtherParent)
	return out
}

// applyGenesis fixes the founding group. A second genesis is ignored;
// founding nodes are expected to share one genesis via configuration.
func (nm *NodeMembership) applyGenesis(obs *Observation) {
	if nm.hasGenesis {
		nm.log.Warn().Msg("ignoring second genesis observation")
		return
	}
	nm.hasGenesis = true
	for _, id := range obs.Members {
		nm.genesis[id] = struct{}{}
		nm.fd.Track(id)
	}
	nm.log.Info().Strs("members", obs.Members).Msg("group bootstrapped")
	nm.emitDecision(obs)
	nm.groupChanged()
}

// checkDecision applies an observation once a strict majority of the
// current group has endorsed it.
func (nm *NodeMembership) checkDecision(oh Hash) {
	group := nm.groupLocked()
	if len(group) == 0 {
		return
	}
	if !nm.votes[oh].Decided(group) {
		return
	}

	nm.decided[oh] = struct{}{}
	obs := nm.observations[oh]

	switch obs.Kind {
	case ObsAdd:
		if _, gone := nm.removed[obs.Node]; gone {
			// A removed ID never rejoins; the add decision is void.
			nm.log.Warn().Str("node", obs.Node).Msg("add decided for removed node, ignoring")
			return
		}
		nm.added[obs.Node] = struct{}{}
		nm.fd.Track(obs.Node)
		nm.log.Info().Str("node", obs.Node).Msg("member added")
	case ObsRemove:
		nm.removed[obs.Node] = struct{}{}
		nm.fd.Forget(obs.Node)
		nm.log.Info().Str("node", obs.Node).Msg("member removed")
	}
	nm.emitDecision(obs)
	nm.groupChanged()
}

// groupLocked computes the effective member set:
// (genesis ∪ added) \ removed. The rule is order-independent, so all
// nodes converge on the same group from the same decided set.
func (nm *NodeMembership) groupLocked() map[string]struct{} {
	out := make(map[string]struct{}, len(nm.genesis)+len(nm.added))
	for id := range nm.genesis {
		out[id] = struct{}{}
	}
	for id := range nm.added {
		out[id] = struct{}{}
	}
	for id := range nm.removed {
		delete(out, id)
	}
	return out
}

func (nm *NodeMembership) inGroupLocked(id string) bool {
	_, ok := nm.groupLocked()[id]
	return ok
}

func (nm *NodeMembership) emitEvent(ev *Event) {
	if nm.restoring || nm.onEvent == nil {
		return
	}
	nm.onEvent(ev)
}

func (nm *NodeMembership) emitDecision(obs *Observation) {
	if nm.onDecision == nil {
		return
	}
	nm.onDecision(obs)
}

func (nm *NodeMembership) groupChanged() {
	if nm.onGroupChange == nil {
		return
	}
	set := nm.groupLocked()
	members := make([]string, 0, len(set))
	for id := range set {
		members = append(members, id)
	}
	sort.Strings(members)
	nm.onGroupChange(members)
}
