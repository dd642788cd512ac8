package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"membership/internal/metrics"
)

// Status represents the liveness state of a tracked peer.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Peer is the detector's view of one tracked node.
type Peer struct {
	ID          string
	Status      Status
	Incarnation uint64
	LastSeen    time.Time
}

// Heartbeat is a local heartbeat-based failure detector. A peer that
// stays silent past the suspect timeout becomes Suspect; past the dead
// timeout it becomes Dead and is queued as a failure. Any observed
// traffic from a Suspect peer refutes the suspicion and bumps its
// incarnation.
type Heartbeat struct {
	mu      sync.RWMutex
	localID string
	peers   map[string]*Peer

	suspectTimeout time.Duration
	deadTimeout    time.Duration

	// Queue of failed peers not yet handed to the caller.
	failures []string

	log zerolog.Logger
}

// Option configures a Heartbeat detector.
type Option func(*Heartbeat)

// WithLogger sets the detector's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Heartbeat) { h.log = log }
}

// NewHeartbeat creates a heartbeat detector for the given local node.
// The local node itself is never tracked or reported.
func NewHeartbeat(localID string, suspectTimeout, deadTimeout time.Duration, opts ...Option) *Heartbeat {
	if suspectTimeout <= 0 {
		suspectTimeout = 3 * time.Second
	}
	if deadTimeout <= 0 {
		deadTimeout = 10 * time.Second
	}

	h := &Heartbeat{
		localID:        localID,
		peers:          make(map[string]*Peer),
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Track starts tracking a peer as Alive. Tracking an already known or
// local peer is a no-op.
func (h *Heartbeat) Track(id string) {
	if id == h.localID {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[id]; ok {
		return
	}
	h.peers[id] = &Peer{
		ID:          id,
		Status:      Alive,
		Incarnation: 1,
		LastSeen:    time.Now(),
	}
}

// Forget stops tracking a peer, e.g. after it has been removed from
// the group.
func (h *Heartbeat) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}

// Observe records liveness evidence for a peer. A Suspect or Dead peer
// observed again is refuted back to Alive with a higher incarnation.
func (h *Heartbeat) Observe(id string) {
	if id == h.localID {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	peer, ok := h.peers[id]
	if !ok {
		// Traffic from an untracked node is ignored; tracking follows
		// group membership, not the other way around.
		return
	}

	peer.LastSeen = time.Now()
	if peer.Status != Alive {
		peer.Status = Alive
		peer.Incarnation++
		h.log.Info().Str("peer", id).Uint64("incarnation", peer.Incarnation).Msg("peer refuted suspicion, marked alive")
	}
}

// PollFailures advances suspicion state based on elapsed silence and
// queues newly dead peers.
func (h *Heartbeat) PollFailures() error {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, peer := range h.peers {
		elapsed := now.Sub(peer.LastSeen)

		switch peer.Status {
		case Alive:
			if elapsed > h.suspectTimeout {
				peer.Status = Suspect
				peer.Incarnation++
				h.log.Warn().Str("peer", id).Dur("silent", elapsed).Msg("peer marked suspect")
			}
		case Suspect:
			if elapsed > h.deadTimeout {
				peer.Status = Dead
				peer.Incarnation++
				h.failures = append(h.failures, id)
				metrics.FailuresTotal.Inc()
				h.log.Warn().Str("peer", id).Dur("silent", elapsed).Msg("peer marked dead")
			}
		}
	}
	return nil
}

// DequeueFailures takes any unhandled failures and removes them from
// the queue.
func (h *Heartbeat) DequeueFailures() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.failures
	h.failures = nil
	return out
}

// Snapshot returns a copy of all tracked peers, sorted by ID.
func (h *Heartbeat) Snapshot() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Peer, 0, len(h.peers))
	for _, peer := range h.peers {
		out = append(out, *peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
