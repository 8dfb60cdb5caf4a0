package bt

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
)

// DecoratorPolicy transforms or gates the result of a decorator's single
// child.
type DecoratorPolicy interface {
	Start(ctx *TickContext, n *Node)
	Update(ctx *TickContext, n *Node) Status
	Stop(ctx *TickContext, n *Node)
}

type noLifecycle struct{}

func (noLifecycle) Start(*TickContext, *Node) {}
func (noLifecycle) Stop(*TickContext, *Node)  {}

// Inverter swaps Success and Failure.
type Inverter struct{ noLifecycle }

func (Inverter) Update(ctx *TickContext, n *Node) Status {
	switch s := n.child.Evaluate(ctx); s {
	case Success:
		return Failure
	case Failure:
		return Success
	default:
		return s
	}
}

// Succeeder reports Success once the child finishes.
type Succeeder struct{ noLifecycle }

func (Succeeder) Update(ctx *TickContext, n *Node) Status {
	if n.child.Evaluate(ctx) == Running {
		return Running
	}
	return Success
}

// Failer reports Failure once the child finishes.
type Failer struct{ noLifecycle }

func (Failer) Update(ctx *TickContext, n *Node) Status {
	if n.child.Evaluate(ctx) == Running {
		return Running
	}
	return Failure
}

// UntilFail re-runs the child until it fails, then fails.
type UntilFail struct{ noLifecycle }

func (UntilFail) Update(ctx *TickContext, n *Node) Status {
	if n.child.Evaluate(ctx) == Failure {
		return Failure
	}
	return Running
}

// Repeater re-runs the child Count times and then reports the result of the
// last run. A zero Count repeats forever. Between runs it reports Running
// and the child restarts on the following tick.
type Repeater struct {
	Count int

	completed int
}

func (r *Repeater) Start(*TickContext, *Node) { r.completed = 0 }
func (r *Repeater) Stop(*TickContext, *Node)  {}

func (r *Repeater) Update(ctx *TickContext, n *Node) Status {
	s := n.child.Evaluate(ctx)
	if s == Running {
		return Running
	}
	r.completed++
	if r.Count > 0 && r.completed >= r.Count {
		return s
	}
	return Running
}

// Completed returns the number of finished child runs since the repeater
// started.
func (r *Repeater) Completed() int {
	return r.completed
}

// Cooldown fails without entering the child until Duration has elapsed
// since the child last finished. The cooldown survives resets of the
// decorator itself.
type Cooldown struct {
	Duration time.Duration

	finishedAt time.Duration
	finished   bool
}

func (c *Cooldown) Start(*TickContext, *Node) {}
func (c *Cooldown) Stop(*TickContext, *Node)  {}

func (c *Cooldown) Update(ctx *TickContext, n *Node) Status {
	if !n.child.Started() && c.coolingDown(ctx.Now()) {
		return Failure
	}
	s := n.child.Evaluate(ctx)
	if s.Terminal() {
		c.finishedAt = ctx.Now()
		c.finished = true
	}
	return s
}

func (c *Cooldown) coolingDown(now time.Duration) bool {
	return c.finished && now-c.finishedAt < c.Duration
}

// TimeLimit fails and interrupts the child once it has been Running for at
// least Limit. An expired child is not updated again.
type TimeLimit struct {
	Limit time.Duration

	startedAt time.Duration
}

func (t *TimeLimit) Start(ctx *TickContext, _ *Node) { t.startedAt = ctx.Now() }
func (t *TimeLimit) Stop(*TickContext, *Node)        {}

func (t *TimeLimit) Update(ctx *TickContext, n *Node) Status {
	if n.child.Started() && ctx.Now()-t.startedAt >= t.Limit {
		return Failure
	}
	s := n.child.Evaluate(ctx)
	if s == Running && ctx.Now()-t.startedAt >= t.Limit {
		return Failure
	}
	return s
}

// Probability enters the child with probability P, drawn once per fresh
// evaluation, and fails otherwise.
type Probability struct {
	P float64

	pass bool
}

func (p *Probability) Start(ctx *TickContext, _ *Node) {
	p.pass = ctx.Rand().Float64() < p.P
}

func (p *Probability) Stop(*TickContext, *Node) {}

func (p *Probability) Update(ctx *TickContext, n *Node) Status {
	if !p.pass {
		return Failure
	}
	return n.child.Evaluate(ctx)
}

// BlackboardMode selects the blackboard a SubTree evaluates against.
type BlackboardMode int

const (
	// Shared evaluates the nested tree against the caller's blackboard.
	Shared BlackboardMode = iota
	// Isolated evaluates against the nested tree's own blackboard.
	Isolated
	// Scoped evaluates against the nested tree's own blackboard with the
	// caller's blackboard as its read fallback.
	Scoped
)

func (m BlackboardMode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Isolated:
		return "isolated"
	case Scoped:
		return "scoped"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseBlackboardMode parses the textual form of a BlackboardMode.
func ParseBlackboardMode(s string) (BlackboardMode, error) {
	switch s {
	case "", "shared":
		return Shared, nil
	case "isolated":
		return Isolated, nil
	case "scoped":
		return Scoped, nil
	}
	return Shared, fmt.Errorf("unknown blackboard mode %q", s)
}

// SubTree delegates to the root of a nested tree. It has no child of its
// own.
type SubTree struct {
	Tree *Tree
	Mode BlackboardMode

	bb *blackboard.Blackboard
}

func (s *SubTree) Start(ctx *TickContext, _ *Node) {
	if s.Tree == nil {
		return
	}
	switch s.Mode {
	case Shared:
		s.bb = ctx.Blackboard
	case Isolated:
		s.bb = s.Tree.bb
	case Scoped:
		s.bb = s.Tree.bb
		if s.bb.Parent() != ctx.Blackboard {
			if err := s.bb.SetParent(ctx.Blackboard); err != nil {
				ctx.Logger().Warn("subtree blackboard scope rejected", zap.Error(err))
			}
		}
	}
}

func (s *SubTree) Update(ctx *TickContext, _ *Node) Status {
	if s.Tree == nil || s.Tree.root == nil {
		return Failure
	}
	return s.Tree.root.Evaluate(ctx.derive(s.Tree, s.bb))
}

func (s *SubTree) Stop(ctx *TickContext, _ *Node) {
	if s.Tree == nil || s.Tree.root == nil {
		return
	}
	s.Tree.root.interrupt(ctx.derive(s.Tree, s.bb))
}

func selfContained(p DecoratorPolicy) bool {
	_, ok := p.(*SubTree)
	return ok
}

// BlackboardConditional checks a predicate over the blackboard before each
// tick of the child. When it does not hold the child is interrupted and the
// decorator fails without ticking it.
type BlackboardConditional struct {
	Predicate func(bb *blackboard.Blackboard) (bool, error)
	// Source is the expression text when the predicate was compiled from one.
	Source string
}

func (*BlackboardConditional) Start(*TickContext, *Node) {}
func (*BlackboardConditional) Stop(*TickContext, *Node)  {}

func (b *BlackboardConditional) Update(ctx *TickContext, n *Node) Status {
	ok := false
	if b.Predicate != nil {
		var err error
		ok, err = b.Predicate(ctx.Blackboard)
		if err != nil {
			ctx.Logger().Warn("blackboard predicate failed", zap.String("expr", b.Source), zap.Error(err))
			ok = false
		}
	}
	if !ok {
		n.child.interrupt(ctx)
		return Failure
	}
	return n.child.Evaluate(ctx)
}

// NewInverter wraps child in an Inverter.
func NewInverter(id string, child *Node) *Node {
	return NewDecorator(id, Inverter{}, child)
}

// NewSucceeder wraps child in a Succeeder.
func NewSucceeder(id string, child *Node) *Node {
	return NewDecorator(id, Succeeder{}, child)
}

// NewFailer wraps child in a Failer.
func NewFailer(id string, child *Node) *Node {
	return NewDecorator(id, Failer{}, child)
}

// NewUntilFail wraps child in an UntilFail.
func NewUntilFail(id string, child *Node) *Node {
	return NewDecorator(id, UntilFail{}, child)
}

// NewRepeater wraps child in a Repeater.
func NewRepeater(id string, count int, child *Node) *Node {
	return NewDecorator(id, &Repeater{Count: count}, child)
}

// NewCooldown wraps child in a Cooldown.
func NewCooldown(id string, d time.Duration, child *Node) *Node {
	return NewDecorator(id, &Cooldown{Duration: d}, child)
}

// NewTimeLimit wraps child in a TimeLimit.
func NewTimeLimit(id string, limit time.Duration, child *Node) *Node {
	return NewDecorator(id, &TimeLimit{Limit: limit}, child)
}

// NewProbability wraps child in a Probability.
func NewProbability(id string, p float64, child *Node) *Node {
	return NewDecorator(id, &Probability{P: p}, child)
}

// NewSubTree returns a node delegating to tree.
func NewSubTree(id string, tree *Tree, mode BlackboardMode) *Node {
	return NewDecorator(id, &SubTree{Tree: tree, Mode: mode}, nil)
}

// NewBlackboardConditional wraps child in a BlackboardConditional driven by
// a Go predicate.
func NewBlackboardConditional(id string, pred func(bb *blackboard.Blackboard) bool, child *Node) *Node {
	return NewDecorator(id, &BlackboardConditional{
		Predicate: func(bb *blackboard.Blackboard) (bool, error) { return pred(bb), nil },
	}, child)
}
