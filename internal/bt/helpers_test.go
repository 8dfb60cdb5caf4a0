package bt

import (
	"errors"
	"time"
)

// probe is a scripted action that records its lifecycle calls.
type probe struct {
	name    string
	script  []Status
	err     error
	panicOn bool

	starts, updates, stops int
	trace                  *[]string
}

func newProbe(name string, script ...Status) *probe {
	return &probe{name: name, script: script}
}

func (p *probe) OnStart(*TickContext) {
	p.starts++
	p.record("start")
}

func (p *probe) OnUpdate(*TickContext) (Status, error) {
	p.updates++
	p.record("update")
	if p.panicOn {
		panic("probe exploded")
	}
	if p.err != nil {
		return Running, p.err
	}
	if len(p.script) == 0 {
		return Success, nil
	}
	i := p.updates - 1
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	return p.script[i], nil
}

func (p *probe) OnStop(*TickContext) {
	p.stops++
	p.record("stop")
}

func (p *probe) record(what string) {
	if p.trace != nil {
		*p.trace = append(*p.trace, p.name+"."+what)
	}
}

// waitFor succeeds once d has elapsed on the tree clock since it started.
type waitFor struct {
	d       time.Duration
	started time.Duration
}

func (w *waitFor) OnStart(ctx *TickContext) { w.started = ctx.Now() }
func (w *waitFor) OnStop(*TickContext)      {}

func (w *waitFor) OnUpdate(ctx *TickContext) (Status, error) {
	if ctx.Now()-w.started >= w.d {
		return Success, nil
	}
	return Running, nil
}

type flag struct{ v bool }

func (f *flag) cond() ConditionFunc {
	return func(*TickContext) bool { return f.v }
}

func always(s Status) ActionFunc {
	return func(*TickContext) (Status, error) { return s, nil }
}

var errBoom = errors.New("boom")
