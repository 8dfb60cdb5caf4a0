package bt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/metrics"
	"github.com/AaronLay10/SentientTree/internal/port"
)

// ErrNoEventBus is returned by Raise and Subscribe when the tree was built
// without an event bus.
var ErrNoEventBus = errors.New("bt: no event bus configured")

// EventBus is the pub/sub collaborator leaves use to raise and wait for
// events. The engine does not know the transport.
type EventBus interface {
	Publish(channel string, payload any) error
	Subscribe(channel string, fn func(payload any)) (unsubscribe func(), err error)
}

// Clock is the time source for time-based nodes. Now is the time elapsed
// since the tree was created.
type Clock interface {
	Now() time.Duration
}

// Advancer is implemented by clocks driven by tick deltas.
type Advancer interface {
	Advance(dt time.Duration)
}

// TickClock advances only by the deltas passed to Tree.Tick.
type TickClock struct {
	now time.Duration
}

func (c *TickClock) Now() time.Duration {
	return c.now
}

func (c *TickClock) Advance(dt time.Duration) {
	c.now += dt
}

// Pool recycles scratch buffers. *sync.Pool satisfies it.
type Pool interface {
	Get() any
	Put(x any)
}

// env is the execution environment shared by every node of a tree and by
// the subtrees it drives.
type env struct {
	treeID  string
	clock   Clock
	rng     *rand.Rand
	logger  *zap.Logger
	bus     EventBus
	pool    Pool
	agent   any
	log     *events.Log
	metrics *metrics.Collector
}

func (e *env) emit(level, name string, fields map[string]interface{}) {
	if e.log == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["tree_id"] = e.treeID
	if _, err := e.log.Emit(level, name, "", fields); err != nil {
		e.logger.Warn("event rejected", zap.String("event", name), zap.Error(err))
	}
}

// TickContext is passed to every callback during one tick. It is only valid
// for the duration of the callback.
type TickContext struct {
	// Delta is the time passed to Tree.Tick.
	Delta time.Duration
	// Blackboard is the blackboard visible to the current node.
	Blackboard *blackboard.Blackboard

	env  *env
	tree *Tree
	node *Node
}

// Now returns the tree clock.
func (c *TickContext) Now() time.Duration {
	return c.env.clock.Now()
}

// Rand returns the tree's random source.
func (c *TickContext) Rand() *rand.Rand {
	return c.env.rng
}

// Agent returns the agent the tree acts for, if any.
func (c *TickContext) Agent() any {
	return c.env.agent
}

// Node returns the node currently being evaluated.
func (c *TickContext) Node() *Node {
	return c.node
}

// Tree returns the tree that owns the current node.
func (c *TickContext) Tree() *Tree {
	return c.tree
}

// Logger returns the tree logger annotated with the current node.
func (c *TickContext) Logger() *zap.Logger {
	if c.node == nil {
		return c.env.logger
	}
	return c.env.logger.With(zap.String("node_id", c.node.ID), zap.String("node_type", c.node.TypeName()))
}

// Input resolves an input port of the current node.
func (c *TickContext) Input(name string) (any, bool) {
	if c.node == nil {
		return nil, false
	}
	p, ok := c.node.Port(name)
	if !ok || !p.Input {
		return nil, false
	}
	return p.Resolve(c.tree)
}

// SetOutput caches a value on an output port of the current node.
func (c *TickContext) SetOutput(name string, v any) error {
	if c.node == nil {
		return fmt.Errorf("set output %q: %w", name, port.ErrNotFound)
	}
	p, ok := c.node.Port(name)
	if !ok {
		return fmt.Errorf("set output %s.%s: %w", c.node.ID, name, port.ErrNotFound)
	}
	return p.Set(v)
}

// Raise publishes payload on channel through the tree's event bus.
func (c *TickContext) Raise(channel string, payload any) error {
	if c.env.bus == nil {
		return ErrNoEventBus
	}
	return c.env.bus.Publish(channel, payload)
}

// Subscribe registers fn for events on channel through the tree's event bus.
func (c *TickContext) Subscribe(channel string, fn func(payload any)) (func(), error) {
	if c.env.bus == nil {
		return nil, ErrNoEventBus
	}
	return c.env.bus.Subscribe(channel, fn)
}

// Emit records a domain event attributed to the current node. Unknown event
// names are logged and dropped.
func (c *TickContext) Emit(level, name string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if c.node != nil {
		fields["node_id"] = c.node.ID
	}
	c.env.emit(level, name, fields)
}

// derive returns a context evaluating nodes of tree t against bb.
func (c *TickContext) derive(t *Tree, bb *blackboard.Blackboard) *TickContext {
	return &TickContext{
		Delta:      c.Delta,
		Blackboard: bb,
		env:        c.env,
		tree:       t,
		node:       c.node,
	}
}

func (c *TickContext) ints(n int) []int {
	if c.env.pool != nil {
		if buf, ok := c.env.pool.Get().([]int); ok && cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]int, n)
}

func (c *TickContext) releaseInts(buf []int) {
	if c.env.pool != nil && buf != nil {
		c.env.pool.Put(buf[:0])
	}
}

// Input resolves an input port of the current node as a T.
func Input[T any](c *TickContext, name string) (T, bool) {
	var zero T
	v, ok := c.Input(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
