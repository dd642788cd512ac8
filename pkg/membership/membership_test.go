package membership

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// stubDetector is a FailureDetector with manually injected failures.
type stubDetector struct {
	tracked  map[string]bool
	failures []string
}

func newStubDetector() *stubDetector {
	return &stubDetector{tracked: make(map[string]bool)}
}

func (d *stubDetector) Track(id string)  { d.tracked[id] = true }
func (d *stubDetector) Forget(id string) { delete(d.tracked, id) }
func (d *stubDetector) Observe(string)   {}
func (d *stubDetector) PollFailures() error {
	return nil
}
func (d *stubDetector) DequeueFailures() []string {
	out := d.failures
	d.failures = nil
	return out
}

// cluster pumps messages between in-memory state machines, delivering
// every emitted message to every other node until quiescent.
type cluster struct {
	t         *testing.T
	nodes     map[string]*NodeMembership
	detectors map[string]*stubDetector
	order     []string
}

func newCluster(t *testing.T, ids ...string) *cluster {
	t.Helper()
	c := &cluster{
		t:         t,
		nodes:     make(map[string]*NodeMembership),
		detectors: make(map[string]*stubDetector),
		order:     ids,
	}
	for _, id := range ids {
		d := newStubDetector()
		c.detectors[id] = d
		c.nodes[id] = New(Config{LocalID: id, Detector: d})
	}
	return c
}

func (c *cluster) addNode(id string) *NodeMembership {
	d := newStubDetector()
	c.detectors[id] = d
	nm := New(Config{LocalID: id, Detector: d})
	c.nodes[id] = nm
	c.order = append(c.order, id)
	return nm
}

// pump delivers the given messages and all transitively generated
// replies, broadcast style. Fails the test if traffic does not quiesce.
func (c *cluster) pump(msgs ...Message) {
	c.t.Helper()

	queue := msgs
	for rounds := 0; len(queue) > 0; rounds++ {
		if rounds > 1000 {
			c.t.Fatal("message pump did not quiesce")
		}
		msg := queue[0]
		queue = queue[1:]

		for _, id := range c.order {
			if id == msg.From {
				continue
			}
			replies, err := c.nodes[id].HandleMessage(msg)
			require.NoError(c.t, err)
			queue = append(queue, replies...)
		}
	}
}

func (c *cluster) bootstrapAll(members []string) {
	c.t.Helper()
	var msgs []Message
	for _, id := range members {
		msg, err := c.nodes[id].Bootstrap(members)
		require.NoError(c.t, err)
		msgs = append(msgs, msg)
	}
	c.pump(msgs...)
}

func (c *cluster) requireGroup(want []string, ids ...string) {
	c.t.Helper()
	for _, id := range ids {
		require.Equal(c.t, want, c.nodes[id].Group(), "group of %s", id)
	}
}

func TestBootstrap_FixesFoundingGroup(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	c.requireGroup([]string{"a", "b", "c"}, "a", "b", "c")

	// Founding members are tracked by each node's detector, self excluded.
	require.True(t, c.detectors["a"].tracked["b"])
	require.True(t, c.detectors["a"].tracked["c"])
}

func TestBootstrap_Twice(t *testing.T) {
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})

	_, err := nm.Bootstrap([]string{"a"})
	require.NoError(t, err)

	_, err = nm.Bootstrap([]string{"a"})
	require.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

func TestBootstrap_IncludesLocalNode(t *testing.T) {
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})

	_, err := nm.Bootstrap([]string{"b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, nm.Group())
}

func TestJoin_DecidedByMajority(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	// A new node proposes its own addition before knowing the group.
	d := c.addNode("d")
	msg, err := d.ProposeAdd("d")
	require.NoError(t, err)

	c.pump(msg)

	c.requireGroup([]string{"a", "b", "c", "d"}, "a", "b", "c", "d")
}

func TestRemove_FailedMemberViaPoll(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	// a's local detector reports c dead.
	c.detectors["a"].failures = []string{"c"}
	msgs, err := c.nodes["a"].Poll()
	require.NoError(t, err)
	require.Len(t, msgs, 2) // remove proposal + sync request

	// Deliver to b only; a and b form a majority of {a,b,c}.
	c.order = []string{"a", "b"}
	c.pump(msgs...)

	c.requireGroup([]string{"a", "b"}, "a", "b")
}

func TestRemovedNode_CannotRejoin(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	msg, err := c.nodes["a"].ProposeRemove("c")
	require.NoError(t, err)
	c.pump(msg)
	c.requireGroup([]string{"a", "b"}, "a", "b")

	_, err = c.nodes["a"].ProposeAdd("c")
	require.Error(t, err)
}

func TestRemovedNode_HistoryMergesWithoutRejoin(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	msg, err := c.nodes["a"].ProposeRemove("c")
	require.NoError(t, err)
	c.pump(msg)
	c.requireGroup([]string{"a", "b"}, "a", "b", "c")

	before := c.nodes["a"].Graph().Len()

	// The removed node keeps creating events; they still merge into
	// everyone's graph as history without re-entering the group.
	late, err := c.nodes["c"].ProposeRemove("d")
	require.NoError(t, err)
	c.pump(late)

	require.Greater(t, c.nodes["a"].Graph().Len(), before)
	c.requireGroup([]string{"a", "b"}, "a", "b")
}

func TestAdd_DecidedForRemovedNodeIsVoid(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	msg, err := c.nodes["a"].ProposeRemove("c")
	require.NoError(t, err)
	c.pump(msg)
	c.requireGroup([]string{"a", "b"}, "a", "b")

	var decided []*Observation
	c.nodes["a"].SetDecisionHook(func(obs *Observation) { decided = append(decided, obs) })

	// A node that never saw the removal proposes the rejoin; the
	// members endorse it, but the decided add is void.
	x := c.addNode("x")
	rejoin, err := x.ProposeAdd("c")
	require.NoError(t, err)
	c.pump(rejoin)

	c.requireGroup([]string{"a", "b"}, "a", "b")
	require.Equal(t, 0, c.nodes["a"].PendingObservations())
	require.Empty(t, decided) // void decisions are not applied
}

func TestDecisionHook_FiresPerAppliedDecision(t *testing.T) {
	var kinds []ObservationKind
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})
	nm.SetDecisionHook(func(obs *Observation) { kinds = append(kinds, obs.Kind) })

	_, err := nm.Bootstrap([]string{"a"})
	require.NoError(t, err)

	// In a single-member group the local endorsement is the majority.
	_, err = nm.ProposeRemove("b")
	require.NoError(t, err)
	_, err = nm.ProposeAdd("c")
	require.NoError(t, err)

	require.Equal(t, []ObservationKind{ObsGenesis, ObsRemove, ObsAdd}, kinds)
}

func TestPoll_EmitsSyncRequest(t *testing.T) {
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})
	_, err := nm.Bootstrap([]string{"a"})
	require.NoError(t, err)

	msgs, err := nm.Poll()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, MsgSyncRequest, msgs[0].Kind)
	require.Equal(t, uint64(1), msgs[0].Clock["a"])
}

func TestSync_CatchesUpEmptyNode(t *testing.T) {
	a := New(Config{LocalID: "a", Detector: newStubDetector()})
	_, err := a.Bootstrap([]string{"a", "b"})
	require.NoError(t, err)
	_, err = a.ProposeAdd("c")
	require.NoError(t, err)

	b := New(Config{LocalID: "b", Detector: newStubDetector()})

	// b announces its (empty) prefix; a responds with everything.
	replies, err := a.HandleMessage(SyncRequest("b", map[string]uint64{}))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, MsgSyncResponse, replies[0].Kind)
	require.Len(t, replies[0].Events, 2)

	more, err := b.HandleMessage(replies[0])
	require.NoError(t, err)

	// b's own ack completes the 2-of-2 majority, so the add decides.
	require.Equal(t, []string{"a", "b", "c"}, b.Group())
	require.Equal(t, 2, a.Graph().Len()) // genesis + add proposal
	require.Equal(t, 3, b.Graph().Len()) // plus b's ack
	require.NotEmpty(t, more)            // the ack travels back
}

func TestHandleMessage_OutOfOrderEventIsBuffered(t *testing.T) {
	a := New(Config{LocalID: "a", Detector: newStubDetector()})
	genesisMsg, err := a.Bootstrap([]string{"a", "b"})
	require.NoError(t, err)
	addMsg, err := a.ProposeAdd("c")
	require.NoError(t, err)

	b := New(Config{LocalID: "b", Detector: newStubDetector()})

	// The second event arrives first: buffered, sync requested.
	replies, err := b.HandleMessage(addMsg)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, MsgSyncRequest, replies[0].Kind)
	require.Equal(t, 0, b.Graph().Len())

	// The missing parent unblocks the buffered event; b's ack then
	// completes the majority for the add.
	_, err = b.HandleMessage(genesisMsg)
	require.NoError(t, err)
	require.Equal(t, 3, b.Graph().Len()) // genesis + add + b's ack
	require.Equal(t, []string{"a", "b", "c"}, b.Group())
}

func TestHandleMessage_UnknownKind(t *testing.T) {
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})
	_, err := nm.HandleMessage(Message{Kind: "bogus", From: "b"})
	require.Error(t, err)
}

func TestRestore_RebuildsState(t *testing.T) {
	var persisted []*Event

	a := New(Config{LocalID: "a", Detector: newStubDetector()})
	a.SetEventHook(func(ev *Event) { persisted = append(persisted, ev) })

	_, err := a.Bootstrap([]string{"a"})
	require.NoError(t, err)
	_, err = a.ProposeAdd("b")
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	restored := New(Config{LocalID: "a", Detector: newStubDetector()})
	require.NoError(t, restored.Restore(persisted))

	require.Equal(t, a.Group(), restored.Group())
	require.True(t, a.Graph().Clock().Equal(restored.Graph().Clock()))
}

func TestGroupChangeHook(t *testing.T) {
	var last []string
	nm := New(Config{LocalID: "a", Detector: newStubDetector()})
	nm.SetGroupChangeHook(func(members []string) { last = members })

	_, err := nm.Bootstrap([]string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, last)
}

func TestPendingObservations(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.bootstrapAll([]string{"a", "b", "c"})

	require.Equal(t, 0, c.nodes["a"].PendingObservations())

	// A proposal not yet seen by anyone else stays pending.
	_, err := c.nodes["a"].ProposeAdd("d")
	require.NoError(t, err)
	require.Equal(t, 1, c.nodes["a"].PendingObservations())
}
