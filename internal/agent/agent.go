package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"membership/internal/config"
	"membership/internal/detector"
	"membership/internal/logging"
	"membership/internal/metrics"
	"membership/internal/ring"
	"membership/internal/store"
	"membership/internal/transport"
	"membership/pkg/membership"
)

// Agent runs one membership node: the gossip state machine, its
// failure detector, the HTTP transport, the placement ring, and the
// persistent event log.
type Agent struct {
	cfg config.Config
	log zerolog.Logger

	nm       *membership.NodeMembership
	detector *detector.Heartbeat
	registry *transport.Registry
	ring     *ring.Ring
	store    store.Store
	client   *transport.Client
	server   *transport.Server

	// Outbox for messages produced outside a request/reply exchange,
	// flushed on the next gossip tick.
	mu     sync.Mutex
	outbox []membership.Message

	closeOnce sync.Once
	closeErr  error
}

// New builds an agent from the given configuration and replays any
// persisted event log.
func New(cfg config.Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: invalid config: %w", err)
	}

	log := logging.WithNode("agent", cfg.NodeID)

	det := detector.NewHeartbeat(cfg.NodeID, cfg.SuspectTimeout.Std(), cfg.DeadTimeout.Std(),
		detector.WithLogger(logging.WithNode("detector", cfg.NodeID)))

	nm := membership.New(membership.Config{
		LocalID:      cfg.NodeID,
		Detector:     det,
		MaxSyncBatch: cfg.MaxSyncBatch,
		Logger:       logging.WithNode("membership", cfg.NodeID),
	})

	var st store.Store
	if cfg.DataDir != "" {
		badgerStore, err := store.OpenBadger(filepath.Join(cfg.DataDir, "events"))
		if err != nil {
			return nil, fmt.Errorf("agent: open event log: %w", err)
		}
		st = badgerStore
	} else {
		st = store.NewMemory()
	}

	a := &Agent{
		cfg:      cfg,
		log:      log,
		nm:       nm,
		detector: det,
		registry: transport.NewRegistry(cfg.NodeID, cfg.AdvertiseAddr),
		ring:     ring.New(cfg.VNodes),
		store:    st,
		client:   transport.NewClient(cfg.ProbeInterval.Std()),
	}
	for _, seed := range cfg.Seeds {
		a.registry.Set(seed.ID, seed.Addr)
	}

	nm.SetEventHook(a.persistEvent)
	nm.SetGroupChangeHook(a.groupChanged)
	nm.SetDecisionHook(func(obs *membership.Observation) {
		metrics.RecordDecision(string(obs.Kind))
	})

	if err := a.replayLog(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.server = transport.NewServer(transport.ServerConfig{
		LocalID: cfg.NodeID,
		Addr:    cfg.ListenAddr,
		Gossip:  a.handleGossip,
		Members: a.membersView,
		Ring:    a.ringView,
		Logger:  logging.WithNode("http", cfg.NodeID),
	})
	return a, nil
}

// Membership exposes the underlying state machine, mainly for tests
// and the CLI.
func (a *Agent) Membership() *membership.NodeMembership {
	return a.nm
}

// Run starts the HTTP server and the gossip loop, joins or bootstraps
// the group, and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.join(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.ListenAddr).Msg("http server listening")
		return a.server.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return a.gossipLoop(ctx)
	})

	err := g.Wait()
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the agent's persistent resources. Safe to call more
// than once.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.client.Close()
		a.closeErr = a.store.Close()
	})
	return a.closeErr
}

// join establishes group membership on startup. A bootstrap node fixes
// the founding group from its seed list; everyone else proposes its own
// addition and relies on the existing members to decide it.
func (a *Agent) join() error {
	if len(a.nm.Group()) > 0 {
		// Restored from the event log; nothing to establish.
		a.log.Info().Strs("group", a.nm.Group()).Msg("membership restored from event log")
		return nil
	}

	if a.cfg.Bootstrap {
		msg, err := a.nm.Bootstrap(a.cfg.SeedIDs())
		if err != nil {
			return fmt.Errorf("agent: bootstrap: %w", err)
		}
		a.log.Info().Strs("members", a.nm.Group()).Msg("bootstrapped new group")
		a.enqueue(msg)
		return nil
	}

	if len(a.cfg.Seeds) == 0 {
		return fmt.Errorf("agent: no seeds configured and bootstrap disabled")
	}
	msg, err := a.nm.ProposeAdd(a.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("agent: propose join: %w", err)
	}
	a.log.Info().Msg("proposing to join via seeds")
	a.enqueue(msg)
	return nil
}

// gossipLoop drives the periodic exchange: poll the failure detector,
// flush the outbox, and fan the envelope out to a few random peers.
func (a *Agent) gossipLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.ProbeInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	msgs, err := a.nm.Poll()
	if err != nil {
		a.log.Error().Err(err).Msg("poll failed")
	}

	a.mu.Lock()
	msgs = append(a.outbox, msgs...)
	a.outbox = nil
	a.mu.Unlock()

	targets := a.registry.Targets(a.cfg.Fanout)
	if len(targets) == 0 {
		return
	}

	env := transport.Envelope{
		From:     a.cfg.NodeID,
		Addr:     a.cfg.AdvertiseAddr,
		Peers:    a.registry.Snapshot(),
		Messages: msgs,
	}
	a.client.Broadcast(ctx, targets, env,
		func(peer string, reply transport.Envelope) {
			a.absorb(reply)
		},
		func(peer string, err error) {
			a.log.Debug().Str("peer", peer).Err(err).Msg("gossip exchange failed")
		})
}

// handleGossip serves one inbound exchange and replies in-band.
func (a *Agent) handleGossip(env transport.Envelope) transport.Envelope {
	replies := a.process(env)
	return transport.Envelope{
		From:     a.cfg.NodeID,
		Addr:     a.cfg.AdvertiseAddr,
		Peers:    a.registry.Snapshot(),
		Messages: replies,
	}
}

// absorb consumes a reply envelope. Any follow-up messages go to the
// outbox instead of another immediate round-trip, which bounds each
// exchange to one request and one reply.
func (a *Agent) absorb(env transport.Envelope) {
	if replies := a.process(env); len(replies) > 0 {
		a.enqueue(replies...)
	}
}

func (a *Agent) process(env transport.Envelope) []membership.Message {
	a.registry.Merge(env.Peers)
	a.registry.Set(env.From, env.Addr)

	var out []membership.Message
	for _, msg := range env.Messages {
		replies, err := a.nm.HandleMessage(msg)
		if err != nil {
			a.log.Warn().Err(err).Str("from", env.From).Str("kind", string(msg.Kind)).Msg("message rejected")
			continue
		}
		out = append(out, replies...)
	}
	return out
}

func (a *Agent) enqueue(msgs ...membership.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbox = append(a.outbox, msgs...)
}

// persistEvent appends one accepted event to the log.
func (a *Agent) persistEvent(ev *membership.Event) {
	origin := "remote"
	if ev.Creator == a.cfg.NodeID {
		origin = "local"
	}
	metrics.RecordEvent(origin)

	data, err := json.Marshal(ev)
	if err != nil {
		a.log.Error().Err(err).Msg("encode event for log")
		return
	}
	if err := a.store.Append(data); err != nil {
		a.log.Error().Err(err).Msg("append event to log")
	}
}

// groupChanged rebuilds the placement ring from the new member set.
func (a *Agent) groupChanged(members []string) {
	a.ring.SetMembers(members)
	metrics.RecordGroupSize(len(members))
	a.log.Info().Strs("members", members).Msg("group changed")
}

// replayLog rebuilds the state machine from the persisted event log.
func (a *Agent) replayLog() error {
	var events []*membership.Event
	err := a.store.Replay(func(data []byte) error {
		var ev membership.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode logged event: %w", err)
		}
		events = append(events, &ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("agent: replay event log: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	if err := a.nm.Restore(events); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	a.log.Info().Int("events", len(events)).Msg("replayed event log")
	return nil
}

// membersView builds the read-only member listing.
func (a *Agent) membersView() transport.MembersResponse {
	peers := a.detector.Snapshot()
	out := transport.MembersResponse{
		LocalID: a.cfg.NodeID,
		Group:   a.nm.Group(),
		Peers:   make([]transport.MemberInfo, 0, len(peers)),
	}
	for _, p := range peers {
		addr, _ := a.registry.Lookup(p.ID)
		out.Peers = append(out.Peers, transport.MemberInfo{
			ID:          p.ID,
			Addr:        addr,
			Status:      p.Status.String(),
			Incarnation: p.Incarnation,
		})
	}
	return out
}

// ringView resolves key placement against the current group.
func (a *Agent) ringView(key string, replicas int) (transport.RingResponse, error) {
	owner, ok := a.ring.Owner(key)
	if !ok {
		return transport.RingResponse{}, fmt.Errorf("no group members on the ring")
	}
	return transport.RingResponse{
		Key:      key,
		Owner:    owner,
		Replicas: a.ring.Preference(key, replicas),
	}, nil
}
