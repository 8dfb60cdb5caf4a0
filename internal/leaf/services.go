package leaf

import (
	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/bt"
)

// Counter adds Step to the integer at Key each time it fires. A missing or
// non-integer value counts from zero.
type Counter struct {
	Key  string
	Step int
}

func (c *Counter) OnServiceUpdate(ctx *bt.TickContext) {
	n, _ := blackboard.TryGet[int](ctx.Blackboard, c.Key)
	ctx.Blackboard.Set(c.Key, n+c.Step)
}

// Copy copies the value at From to To when From is present.
type Copy struct {
	From string
	To   string
}

func (c *Copy) OnServiceUpdate(ctx *bt.TickContext) {
	if v, ok := ctx.Blackboard.Lookup(c.From); ok {
		ctx.Blackboard.Set(c.To, v)
	}
}
