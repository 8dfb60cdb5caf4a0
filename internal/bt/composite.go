package bt

// CompositePolicy aggregates the results of a composite's children. Start
// runs on a fresh evaluation, Stop when the composite finishes or is
// interrupted. A policy instance belongs to exactly one node.
type CompositePolicy interface {
	Start(ctx *TickContext, n *Node)
	Update(ctx *TickContext, n *Node) Status
	Stop(ctx *TickContext, n *Node)
}

// Selector returns the first child result that is not Failure. It restarts
// from the first child every tick, so a higher priority child that starts
// succeeding preempts a lower priority child that is still Running.
type Selector struct{}

func (*Selector) Start(*TickContext, *Node) {}
func (*Selector) Stop(*TickContext, *Node)  {}

func (*Selector) Update(ctx *TickContext, n *Node) Status {
	return selectOver(ctx, n.children, nil)
}

// selectOver evaluates children in order, or in the order of perm when it
// is non-nil, and interrupts every other started child once one succeeds
// or is Running.
func selectOver(ctx *TickContext, children []*Node, perm []int) Status {
	for i := range children {
		idx := i
		if perm != nil {
			idx = perm[i]
		}
		s := children[idx].Evaluate(ctx)
		if s == Failure {
			continue
		}
		for j, c := range children {
			if j != idx {
				c.interrupt(ctx)
			}
		}
		return s
	}
	return Failure
}

// Sequence runs children in order and resumes at the Running child on the
// next tick.
type Sequence struct {
	current int
}

func (s *Sequence) Start(*TickContext, *Node) { s.current = 0 }
func (s *Sequence) Stop(*TickContext, *Node)  { s.current = 0 }

func (s *Sequence) Update(ctx *TickContext, n *Node) Status {
	for s.current < len(n.children) {
		switch n.children[s.current].Evaluate(ctx) {
		case Running:
			return Running
		case Failure:
			return Failure
		}
		s.current++
	}
	return Success
}

// RandomSelector is a Selector over a permutation of its children drawn
// from the tree's random source on every fresh evaluation.
type RandomSelector struct {
	order []int
}

func (r *RandomSelector) Start(ctx *TickContext, n *Node) {
	r.order = ctx.ints(len(n.children))
	for i := range r.order {
		r.order[i] = i
	}
	ctx.Rand().Shuffle(len(r.order), func(i, j int) {
		r.order[i], r.order[j] = r.order[j], r.order[i]
	})
}

func (r *RandomSelector) Update(ctx *TickContext, n *Node) Status {
	return selectOver(ctx, n.children, r.order)
}

func (r *RandomSelector) Stop(ctx *TickContext, _ *Node) {
	ctx.releaseInts(r.order)
	r.order = nil
}

// Order returns the permutation of the current evaluation.
func (r *RandomSelector) Order() []int {
	return r.order
}

// Parallel ticks every unfinished child each tick.
//
// SuccessThreshold is the number of successful children needed to succeed;
// zero means all of them. FailureThreshold is the number of failed children
// needed to fail; zero means one. When both are reached on the same tick the
// Parallel fails. When every child has finished without reaching either
// threshold it fails as well.
type Parallel struct {
	SuccessThreshold int
	FailureThreshold int

	results []Status
}

func (p *Parallel) Start(_ *TickContext, n *Node) {
	if cap(p.results) < len(n.children) {
		p.results = make([]Status, len(n.children))
	}
	p.results = p.results[:len(n.children)]
	for i := range p.results {
		p.results[i] = Inactive
	}
}

func (p *Parallel) Stop(*TickContext, *Node) {}

func (p *Parallel) Update(ctx *TickContext, n *Node) Status {
	var succeeded, failed, finished int
	for i, c := range n.children {
		if !p.results[i].Terminal() {
			if s := c.Evaluate(ctx); s.Terminal() {
				p.results[i] = s
			}
		}
		switch p.results[i] {
		case Success:
			succeeded++
			finished++
		case Failure:
			failed++
			finished++
		}
	}

	needSuccess, needFailure := p.thresholds(len(n.children))
	switch {
	case failed >= needFailure:
		return Failure
	case succeeded >= needSuccess:
		return Success
	case finished == len(n.children):
		return Failure
	}
	return Running
}

func (p *Parallel) thresholds(children int) (success, failure int) {
	success, failure = p.SuccessThreshold, p.FailureThreshold
	if success <= 0 || success > children {
		success = children
	}
	if failure <= 0 {
		failure = 1
	}
	return success, failure
}

// NewSelector returns a composite node with Selector policy.
func NewSelector(id string, children ...*Node) *Node {
	return NewComposite(id, &Selector{}, children...)
}

// NewSequence returns a composite node with Sequence policy.
func NewSequence(id string, children ...*Node) *Node {
	return NewComposite(id, &Sequence{}, children...)
}

// NewRandomSelector returns a composite node with RandomSelector policy.
func NewRandomSelector(id string, children ...*Node) *Node {
	return NewComposite(id, &RandomSelector{}, children...)
}

// NewParallel returns a composite node with Parallel policy.
func NewParallel(id string, success, failure int, children ...*Node) *Node {
	return NewComposite(id, &Parallel{SuccessThreshold: success, FailureThreshold: failure}, children...)
}
