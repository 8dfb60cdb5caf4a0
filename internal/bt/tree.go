package bt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/metrics"
	"github.com/AaronLay10/SentientTree/internal/port"
)

var (
	// ErrNodeReused is returned when a node is reachable more than once
	// from the root.
	ErrNodeReused = errors.New("bt: node reachable more than once")
	// ErrDuplicateID is returned when two nodes share an id.
	ErrDuplicateID = errors.New("bt: duplicate node id")
)

// Option configures a Tree.
type Option func(*Tree)

// WithID sets the tree instance id used in logs, events and metrics.
func WithID(id string) Option {
	return func(t *Tree) { t.env.treeID = id }
}

// WithBlackboard sets the root blackboard.
func WithBlackboard(bb *blackboard.Blackboard) Option {
	return func(t *Tree) { t.bb = bb }
}

// WithClock sets the time source. Clocks implementing Advancer are advanced
// by every Tick delta.
func WithClock(c Clock) Option {
	return func(t *Tree) { t.env.clock = c }
}

// WithSeed seeds the tree's random source.
func WithSeed(seed uint64) Option {
	return func(t *Tree) { t.env.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithRand sets the tree's random source.
func WithRand(r *rand.Rand) Option {
	return func(t *Tree) { t.env.rng = r }
}

// WithLogger sets the logger used for faults and by leaves.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) { t.env.logger = l }
}

// WithEventBus sets the pub/sub collaborator for Raise and Subscribe.
func WithEventBus(b EventBus) Option {
	return func(t *Tree) { t.env.bus = b }
}

// WithPool sets the scratch buffer pool.
func WithPool(p Pool) Option {
	return func(t *Tree) { t.env.pool = p }
}

// WithAgent sets the agent the tree acts for.
func WithAgent(agent any) Option {
	return func(t *Tree) { t.env.agent = agent }
}

// WithEventLog records node and tree lifecycle events in log.
func WithEventLog(log *events.Log) Option {
	return func(t *Tree) { t.env.log = log }
}

// WithMetrics records evaluation metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Tree) { t.env.metrics = c }
}

// NodeState is a point-in-time view of one node for observers.
type NodeState struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Type      string   `json:"type"`
	Kind      Kind     `json:"kind"`
	State     Status   `json:"state"`
	LastState Status   `json:"last_state"`
	Started   bool     `json:"started"`
	Meta      Metadata `json:"metadata"`
}

// Tree owns a set of nodes, the designated root and the root blackboard.
// It is advanced only by Tick from a single goroutine. Snapshot may be
// called from any goroutine.
type Tree struct {
	root  *Node
	nodes []*Node
	index map[string]*Node
	bb    *blackboard.Blackboard
	env   *env

	ticks  uint64
	status Status

	mu       sync.RWMutex
	snapshot []NodeState
}

// NewTree validates the graph under root and returns a tree ready to tick.
// Empty node ids are assigned from their position. Ports declared by leaves
// are instantiated here.
func NewTree(root *Node, opts ...Option) (*Tree, error) {
	if root == nil {
		return nil, errNilNode
	}
	t := &Tree{
		root:  root,
		index: make(map[string]*Node),
		env: &env{
			treeID: uuid.NewString(),
			clock:  &TickClock{},
			rng:    rand.New(rand.NewPCG(1, 2)),
			logger: zap.NewNop(),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bb == nil {
		t.bb = blackboard.New()
	}

	seen := make(map[*Node]bool)
	var errs []error
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			errs = append(errs, errNilNode)
			return
		}
		if seen[n] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNodeReused, n.ID))
			return
		}
		seen[n] = true
		if n.ID == "" {
			n.ID = fmt.Sprintf("%s-%d", n.kind, len(t.nodes))
		}
		if _, dup := t.index[n.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, n.ID))
		} else {
			t.index[n.ID] = n
		}
		t.nodes = append(t.nodes, n)
		if err := n.initPorts(); err != nil {
			errs = append(errs, err)
		}
		switch n.kind {
		case KindComposite:
			for _, c := range n.children {
				walk(c)
			}
		case KindDecorator:
			if n.child != nil {
				walk(n.child)
			}
		}
	}
	walk(root)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	t.updateSnapshot()
	return t, nil
}

// ID returns the tree instance id.
func (t *Tree) ID() string { return t.env.treeID }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Blackboard returns the root blackboard.
func (t *Tree) Blackboard() *blackboard.Blackboard { return t.bb }

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.index[id]
	return n, ok
}

// Nodes returns every node in depth-first order.
func (t *Tree) Nodes() []*Node { return t.nodes }

// TickCount returns how many times Tick has run.
func (t *Tree) TickCount() uint64 { return t.ticks }

// Status returns the result of the last tick.
func (t *Tree) Status() Status { return t.status }

// Elapsed returns the tree clock.
func (t *Tree) Elapsed() time.Duration { return t.env.clock.Now() }

// Logger returns the tree logger.
func (t *Tree) Logger() *zap.Logger { return t.env.logger }

// Connect wires the output port from to the input port to. On error neither
// port changes.
func (t *Tree) Connect(from, to port.Link) error {
	notFound := func(l port.Link) error {
		return &port.ConnectError{From: from, To: to, Err: fmt.Errorf("%w: %s.%s", port.ErrNotFound, l.Node, l.Port)}
	}
	out, ok := t.lookupPort(from)
	if !ok {
		return notFound(from)
	}
	in, ok := t.lookupPort(to)
	if !ok {
		return notFound(to)
	}
	return in.Connect(out)
}

// OutputPort implements port.Resolver.
func (t *Tree) OutputPort(l port.Link) (*port.Port, bool) {
	p, ok := t.lookupPort(l)
	if !ok || p.Input {
		return nil, false
	}
	return p, true
}

func (t *Tree) lookupPort(l port.Link) (*port.Port, bool) {
	n, ok := t.index[l.Node]
	if !ok {
		return nil, false
	}
	return n.Port(l.Port)
}

// Tick advances the clock by dt and evaluates the tree once from the root.
func (t *Tree) Tick(dt time.Duration) Status {
	began := time.Now()
	if a, ok := t.env.clock.(Advancer); ok {
		a.Advance(dt)
	}
	sweep(t.root)

	ctx := &TickContext{Delta: dt, Blackboard: t.bb, env: t.env, tree: t}
	s := t.root.Evaluate(ctx)

	t.ticks++
	t.status = s
	t.env.metrics.Tick(t.env.treeID, s.String(), time.Since(began))
	if s.Terminal() {
		t.env.emit("info", "tree.completed", map[string]interface{}{
			"status": s.String(),
			"ticks":  t.ticks,
		})
	}
	t.updateSnapshot()
	return s
}

// Abort interrupts every running node, deepest first. It must be called
// from the goroutine that ticks the tree. A tree that is not running keeps
// the status of its last tick.
func (t *Tree) Abort() {
	ctx := &TickContext{Blackboard: t.bb, env: t.env, tree: t}
	running := t.root.Started()
	t.root.interrupt(ctx)
	if running {
		t.status = Inactive
		t.env.emit("warning", "tree.aborted", map[string]interface{}{"ticks": t.ticks})
	}
	t.updateSnapshot()
}

// Snapshot returns the node states recorded at the end of the last tick.
func (t *Tree) Snapshot() []NodeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeState, len(t.snapshot))
	copy(out, t.snapshot)
	return out
}

func (t *Tree) updateSnapshot() {
	states := make([]NodeState, len(t.nodes))
	for i, n := range t.nodes {
		states[i] = NodeState{
			ID:        n.ID,
			Name:      n.Name,
			Type:      n.TypeName(),
			Kind:      n.kind,
			State:     n.state,
			LastState: n.lastState,
			Started:   n.started,
			Meta:      n.Meta,
		}
	}
	t.mu.Lock()
	t.snapshot = states
	t.mu.Unlock()
}

// sweep resets nodes that finished on the previous tick.
func sweep(n *Node) {
	if n == nil {
		return
	}
	if n.state.Terminal() {
		n.lastState = n.state
		n.state = Inactive
	}
	switch n.kind {
	case KindComposite:
		for _, c := range n.children {
			sweep(c)
		}
	case KindDecorator:
		if st, ok := n.decorator.(*SubTree); ok && st.Tree != nil {
			sweep(st.Tree.root)
		}
		sweep(n.child)
	}
}
