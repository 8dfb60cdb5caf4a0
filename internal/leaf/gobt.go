package leaf

import (
	"errors"
	"fmt"

	gobt "github.com/joeycumines/go-behaviortree"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

var errNoGoBTNode = errors.New("gobt: no node")

// GoBT runs a go-behaviortree node as an action, ticking it once per tick.
// The node is built with access to the context of the tick in progress.
type GoBT struct {
	root gobt.Node
	ctx  *bt.TickContext
}

// NewGoBT builds the wrapped node. current returns the tick context while
// the node is being ticked and nil otherwise.
func NewGoBT(build func(current func() *bt.TickContext) gobt.Node) *GoBT {
	g := &GoBT{}
	g.root = build(func() *bt.TickContext { return g.ctx })
	return g
}

func (g *GoBT) OnStart(*bt.TickContext) {}
func (g *GoBT) OnStop(*bt.TickContext)  {}

func (g *GoBT) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	if g.root == nil {
		return bt.Failure, errNoGoBTNode
	}
	g.ctx = ctx
	defer func() { g.ctx = nil }()

	s, err := g.root.Tick()
	if err != nil {
		return bt.Failure, err
	}
	switch s {
	case gobt.Running:
		return bt.Running, nil
	case gobt.Success:
		return bt.Success, nil
	case gobt.Failure:
		return bt.Failure, nil
	}
	return bt.Failure, fmt.Errorf("gobt: unexpected status %v", s)
}

// RequireKeys succeeds when every key is present on the blackboard, checked
// as a go-behaviortree sequence of one leaf per key.
func RequireKeys(keys ...string) *GoBT {
	return NewGoBT(func(current func() *bt.TickContext) gobt.Node {
		children := make([]gobt.Node, 0, len(keys))
		for _, k := range keys {
			children = append(children, gobt.New(func([]gobt.Node) (gobt.Status, error) {
				if _, ok := current().Blackboard.Lookup(k); ok {
					return gobt.Success, nil
				}
				return gobt.Failure, nil
			}))
		}
		return gobt.New(gobt.Sequence, children...)
	})
}
