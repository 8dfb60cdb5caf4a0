package bt

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/port"
)

// Action is the contract for leaves that do work over one or more ticks.
// OnUpdate reports domain failure by returning Failure; a non-nil error is
// an unexpected fault and also ends the node with Failure.
type Action interface {
	OnStart(ctx *TickContext)
	OnUpdate(ctx *TickContext) (Status, error)
	OnStop(ctx *TickContext)
}

// Condition is the contract for stateless predicate leaves.
type Condition interface {
	CheckCondition(ctx *TickContext) bool
}

// PortDeclarer is implemented by leaves that expose typed ports. The list is
// instantiated and validated once when the tree is built.
type PortDeclarer interface {
	Ports() []port.Descriptor
}

// ActionFunc adapts a function to an Action with no start or stop work.
type ActionFunc func(ctx *TickContext) (Status, error)

func (f ActionFunc) OnStart(*TickContext)                      {}
func (f ActionFunc) OnUpdate(ctx *TickContext) (Status, error) { return f(ctx) }
func (f ActionFunc) OnStop(*TickContext)                       {}

// ConditionFunc adapts a function to a Condition.
type ConditionFunc func(ctx *TickContext) bool

func (f ConditionFunc) CheckCondition(ctx *TickContext) bool { return f(ctx) }

// Position is an editor canvas coordinate.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Metadata is authoring information stored for the editor. Evaluation never
// reads it.
type Metadata struct {
	GUID        string   `json:"guid,omitempty" yaml:"guid,omitempty"`
	Position    Position `json:"position" yaml:"position"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Node is one evaluation unit. Its behaviour is selected by Kind and the
// strategy stored for that kind.
type Node struct {
	ID   string
	Name string
	// Type is the registry type id the node was built from, if any.
	Type string
	Meta Metadata

	kind      Kind
	state     Status
	lastState Status
	started   bool

	children  []*Node
	child     *Node
	composite CompositePolicy
	decorator DecoratorPolicy
	action    Action
	condition Condition

	services []*Service
	ports    []*port.Port
	portIdx  map[string]*port.Port
}

// NewComposite creates a composite node. The policy instance belongs to
// this node and must not be shared.
func NewComposite(id string, policy CompositePolicy, children ...*Node) *Node {
	return &Node{ID: id, kind: KindComposite, composite: policy, children: children}
}

// NewDecorator creates a decorator node. child may be nil.
func NewDecorator(id string, policy DecoratorPolicy, child *Node) *Node {
	return &Node{ID: id, kind: KindDecorator, decorator: policy, child: child}
}

// NewAction creates an action leaf.
func NewAction(id string, a Action) *Node {
	return &Node{ID: id, kind: KindAction, action: a}
}

// NewCondition creates a condition leaf.
func NewCondition(id string, c Condition) *Node {
	return &Node{ID: id, kind: KindCondition, condition: c}
}

// WithService attaches a service and returns the node.
func (n *Node) WithService(s *Service) *Node {
	n.services = append(n.services, s)
	return n
}

// Kind returns the node variant.
func (n *Node) Kind() Kind { return n.kind }

// State returns the current state.
func (n *Node) State() Status { return n.state }

// LastState returns the state the node held before it was last reset.
func (n *Node) LastState() Status { return n.lastState }

// Started reports whether OnStart ran and OnStop has not yet run.
func (n *Node) Started() bool { return n.started }

// Children returns the ordered children of a composite.
func (n *Node) Children() []*Node { return n.children }

// Child returns the child of a decorator.
func (n *Node) Child() *Node { return n.child }

// Services returns the attached services.
func (n *Node) Services() []*Service { return n.services }

// Ports returns the instantiated ports.
func (n *Node) Ports() []*port.Port { return n.ports }

// Port looks up a port by name.
func (n *Node) Port(name string) (*port.Port, bool) {
	p, ok := n.portIdx[name]
	return p, ok
}

// Action returns the action of an action leaf.
func (n *Node) Action() Action { return n.action }

// Decorator returns the policy of a decorator node.
func (n *Node) Decorator() DecoratorPolicy { return n.decorator }

// Composite returns the policy of a composite node.
func (n *Node) Composite() CompositePolicy { return n.composite }

// TypeName returns the registry type id, or the kind when none was set.
func (n *Node) TypeName() string {
	if n.Type != "" {
		return n.Type
	}
	return n.kind.String()
}

func (n *Node) declaredPorts() []port.Descriptor {
	var src any
	switch n.kind {
	case KindAction:
		src = n.action
	case KindCondition:
		src = n.condition
	case KindComposite:
		src = n.composite
	case KindDecorator:
		src = n.decorator
	}
	if d, ok := src.(PortDeclarer); ok {
		return d.Ports()
	}
	return nil
}

func (n *Node) initPorts() error {
	ds := n.declaredPorts()
	if err := port.Validate(ds); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.ports = make([]*port.Port, 0, len(ds))
	n.portIdx = make(map[string]*port.Port, len(ds))
	for _, d := range ds {
		p := port.New(n.ID, d)
		n.ports = append(n.ports, p)
		n.portIdx[d.Name] = p
	}
	return nil
}

// Evaluate runs one step of the node state machine and returns its result.
func (n *Node) Evaluate(ctx *TickContext) Status {
	if n.state.Terminal() {
		n.lastState = n.state
		n.state = Inactive
	}

	prev := ctx.node
	ctx.node = n
	defer func() { ctx.node = prev }()

	if !n.started {
		n.started = true
		n.state = Running
		for _, s := range n.services {
			s.reset()
		}
		ctx.env.emit("info", "node.started", n.fields())
		if !n.protect(ctx, "start", func() error { n.onStart(ctx); return nil }) {
			return n.finish(ctx, Failure)
		}
	}

	var status Status
	if !n.protect(ctx, "update", func() error {
		var err error
		status, err = n.onUpdate(ctx)
		return err
	}) {
		return n.finish(ctx, Failure)
	}
	if status != Running && !status.Terminal() {
		n.fault(ctx, "update", fmt.Errorf("invalid result %s", status))
		status = Failure
	}

	n.state = status
	n.tickServices(ctx)

	if status == Running {
		return Running
	}
	return n.finish(ctx, status)
}

// finish ends a started node with a terminal status: running descendants
// are interrupted, then OnStop runs. The terminal state stays visible until
// the tree sweeps it at the start of the next tick.
func (n *Node) finish(ctx *TickContext, status Status) Status {
	n.state = status
	n.interruptChildren(ctx)
	n.protect(ctx, "stop", func() error { n.onStop(ctx); return nil })
	n.started = false

	name := "node.completed"
	if status == Failure {
		name = "node.failed"
	}
	ctx.env.emit("info", name, n.fields())
	ctx.env.metrics.NodeResult(ctx.env.treeID, n.kind.String(), status.String())
	return status
}

// interrupt force-stops a started node and its running descendants,
// deepest first. OnStop runs exactly once per started node.
func (n *Node) interrupt(ctx *TickContext) {
	if !n.started {
		return
	}
	prev := ctx.node
	ctx.node = n
	defer func() { ctx.node = prev }()

	n.interruptChildren(ctx)
	n.protect(ctx, "stop", func() error { n.onStop(ctx); return nil })
	n.started = false
	n.lastState = n.state
	n.state = Inactive

	ctx.env.emit("info", "node.interrupted", n.fields())
	ctx.env.metrics.Interrupt(ctx.env.treeID, n.kind.String())
}

func (n *Node) interruptChildren(ctx *TickContext) {
	switch n.kind {
	case KindComposite:
		for _, c := range n.children {
			c.interrupt(ctx)
		}
	case KindDecorator:
		if n.child != nil {
			n.child.interrupt(ctx)
		}
	}
}

func (n *Node) onStart(ctx *TickContext) {
	switch n.kind {
	case KindComposite:
		n.composite.Start(ctx, n)
	case KindDecorator:
		n.decorator.Start(ctx, n)
	case KindAction:
		n.action.OnStart(ctx)
	}
}

func (n *Node) onUpdate(ctx *TickContext) (Status, error) {
	switch n.kind {
	case KindComposite:
		if len(n.children) == 0 {
			return Failure, nil
		}
		return n.composite.Update(ctx, n), nil
	case KindDecorator:
		if n.child == nil && !selfContained(n.decorator) {
			return Failure, nil
		}
		return n.decorator.Update(ctx, n), nil
	case KindAction:
		return n.action.OnUpdate(ctx)
	case KindCondition:
		if n.condition.CheckCondition(ctx) {
			return Success, nil
		}
		return Failure, nil
	}
	return Failure, fmt.Errorf("unknown node kind %s", n.kind)
}

func (n *Node) onStop(ctx *TickContext) {
	switch n.kind {
	case KindComposite:
		n.composite.Stop(ctx, n)
	case KindDecorator:
		n.decorator.Stop(ctx, n)
	case KindAction:
		n.action.OnStop(ctx)
	}
}

func (n *Node) tickServices(ctx *TickContext) {
	for _, s := range n.services {
		n.protect(ctx, "service", func() error {
			if s.tick(ctx) {
				ctx.env.metrics.ServiceUpdate(ctx.env.treeID, s.Name)
			}
			return nil
		})
	}
}

// protect runs fn and converts a returned error or a panic into a logged
// fault. It reports whether fn completed cleanly.
func (n *Node) protect(ctx *TickContext, phase string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err, isErr := r.(error)
			if !isErr {
				err = fmt.Errorf("%v", r)
			}
			n.fault(ctx, phase, fmt.Errorf("panic: %w", err))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		n.fault(ctx, phase, err)
		return false
	}
	return true
}

func (n *Node) fault(ctx *TickContext, phase string, err error) {
	ctx.env.logger.Error("node fault",
		zap.String("tree_id", ctx.env.treeID),
		zap.String("node_id", n.ID),
		zap.String("node_type", n.TypeName()),
		zap.String("phase", phase),
		zap.Error(err))
	fields := n.fields()
	fields["phase"] = phase
	fields["error"] = err.Error()
	ctx.env.emit("error", "node.error", fields)
	ctx.env.metrics.Fault(ctx.env.treeID, n.kind.String(), phase)
}

func (n *Node) fields() map[string]interface{} {
	return map[string]interface{}{
		"node_id":   n.ID,
		"node_type": n.TypeName(),
	}
}

var errNilNode = errors.New("bt: nil node")
