package bt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
)

func TestInverterSucceederFailer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		root func(child *Node) *Node
		in   Status
		want Status
	}{
		{"inverter success", func(c *Node) *Node { return NewInverter("d", c) }, Success, Failure},
		{"inverter failure", func(c *Node) *Node { return NewInverter("d", c) }, Failure, Success},
		{"inverter running", func(c *Node) *Node { return NewInverter("d", c) }, Running, Running},
		{"succeeder failure", func(c *Node) *Node { return NewSucceeder("d", c) }, Failure, Success},
		{"succeeder running", func(c *Node) *Node { return NewSucceeder("d", c) }, Running, Running},
		{"failer success", func(c *Node) *Node { return NewFailer("d", c) }, Success, Failure},
		{"until fail success", func(c *Node) *Node { return NewUntilFail("d", c) }, Success, Running},
		{"until fail failure", func(c *Node) *Node { return NewUntilFail("d", c) }, Failure, Failure},
	}
	for _, tc := range cases {
		tree := mustTree(t, tc.root(NewAction("leaf", always(tc.in))))
		assert.Equal(t, tc.want, tree.Tick(time.Second), tc.name)
	}
}

func TestDecorator_NoChildFails(t *testing.T) {
	t.Parallel()

	for _, root := range []*Node{
		NewInverter("inv", nil),
		NewRepeater("rep", 0, nil),
		NewCooldown("cd", time.Second, nil),
		NewTimeLimit("tl", time.Second, nil),
		NewSubTree("sub", nil, Shared),
	} {
		tree := mustTree(t, root)
		assert.Equal(t, Failure, tree.Tick(time.Second), root.ID)
	}
}

func TestRepeater_CountedRuns(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Success)
	tree := mustTree(t, NewRepeater("rep", 3, NewAction("leaf", child)))

	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 3, child.starts, "terminates after exactly N completions")
	assert.Equal(t, 3, child.stops)
}

func TestRepeater_ReportsLastResult(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Success, Failure)
	tree := mustTree(t, NewRepeater("rep", 2, NewAction("leaf", child)))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Failure, tree.Tick(time.Second))
}

func TestRepeater_ZeroNeverTerminates(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Success)
	tree := mustTree(t, NewRepeater("rep", 0, NewAction("leaf", child)))
	for i := 0; i < 200; i++ {
		require.Equal(t, Running, tree.Tick(time.Second))
	}
	assert.Equal(t, 200, child.starts)
}

func TestCooldown_BlocksReentry(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Success)
	tree := mustTree(t, NewCooldown("cd", 2*time.Second, NewAction("leaf", child)))

	require.Equal(t, Success, tree.Tick(time.Second)) // now=1s
	require.Equal(t, 1, child.starts)

	require.Equal(t, Failure, tree.Tick(time.Second)) // now=2s
	assert.Equal(t, 1, child.starts, "child must not start while cooling down")

	require.Equal(t, Success, tree.Tick(time.Second)) // now=3s
	assert.Equal(t, 2, child.starts)
}

func TestCooldown_RunningChildIsNotBlocked(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Running, Running, Success)
	tree := mustTree(t, NewCooldown("cd", 10*time.Second, NewAction("leaf", child)))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, Failure, tree.Tick(time.Second))
}

func TestTimeLimit_StopsChild(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Running)
	tree := mustTree(t, NewTimeLimit("tl", 2*time.Second, NewAction("leaf", child)))

	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Failure, tree.Tick(time.Second))
	assert.Equal(t, 1, child.stops)
	assert.Equal(t, 2, child.updates, "an expired child is not updated again")
}

func TestTimeLimit_LateSuccessIsIgnored(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Running, Success)
	tree := mustTree(t, NewTimeLimit("tl", time.Second, NewAction("leaf", child)))

	assert.Equal(t, Running, tree.Tick(500*time.Millisecond))
	assert.Equal(t, Failure, tree.Tick(time.Second))
	assert.Equal(t, 1, child.updates)
	assert.Equal(t, 1, child.stops)
}

func TestProbability(t *testing.T) {
	t.Parallel()

	never := newProbe("never")
	tree := mustTree(t, NewProbability("p0", 0, NewAction("leaf", never)))
	for i := 0; i < 20; i++ {
		require.Equal(t, Failure, tree.Tick(time.Second))
	}
	assert.Zero(t, never.starts)

	sure := newProbe("sure")
	tree = mustTree(t, NewProbability("p1", 1, NewAction("leaf", sure)))
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, sure.starts)
}

func TestProbability_DrawsOncePerEvaluation(t *testing.T) {
	t.Parallel()

	child := newProbe("child", Running)
	policy := &Probability{P: 0.5}
	tree := mustTree(t, NewDecorator("p", policy, NewAction("leaf", child)), WithSeed(3))

	first := tree.Tick(time.Second)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, tree.Tick(time.Second), "a running evaluation keeps its draw")
		if first == Failure {
			break
		}
	}
}

func TestBlackboardConditional_ForceStopsChild(t *testing.T) {
	t.Parallel()

	bb := blackboard.New()
	bb.Set("enabled", true)
	child := newProbe("child", Running)
	tree := mustTree(t, NewBlackboardConditional("gate",
		func(bb *blackboard.Blackboard) bool { return blackboard.Get[bool](bb, "enabled") },
		NewAction("leaf", child),
	), WithBlackboard(bb))

	require.Equal(t, Running, tree.Tick(time.Second))
	bb.Set("enabled", false)
	require.Equal(t, Failure, tree.Tick(time.Second))
	assert.Equal(t, 1, child.stops)
	assert.Equal(t, 1, child.updates, "child is not ticked when the predicate is false")
}

func TestExprConditional(t *testing.T) {
	t.Parallel()

	_, err := NewExprConditional("bad", "hp >", nil)
	require.Error(t, err)

	parent := blackboard.New()
	parent.Set("threshold", 10)
	bb := blackboard.New(blackboard.WithParent(parent))
	bb.Set("hp", 25)

	node, err := NewExprConditional("gate", "hp > threshold && stunned != true", NewAction("leaf", always(Success)))
	require.NoError(t, err)
	tree := mustTree(t, node, WithBlackboard(bb))
	assert.Equal(t, Success, tree.Tick(time.Second))

	bb.Set("hp", 5)
	assert.Equal(t, Failure, tree.Tick(time.Second))
}

func TestSubTree_BlackboardModes(t *testing.T) {
	t.Parallel()

	writer := func() *Node {
		return NewAction("write", ActionFunc(func(ctx *TickContext) (Status, error) {
			seen, _ := blackboard.TryGet[string](ctx.Blackboard, "greeting")
			ctx.Blackboard.Set("seen", seen)
			ctx.Blackboard.Set("written", true)
			return Success, nil
		}))
	}

	for _, tc := range []struct {
		mode        BlackboardMode
		outerWrites bool
		innerReads  string
	}{
		{Shared, true, "hello"},
		{Isolated, false, ""},
		{Scoped, false, "hello"},
	} {
		inner := mustTree(t, writer())
		outerBB := blackboard.New()
		outerBB.Set("greeting", "hello")
		outer := mustTree(t, NewSubTree("sub", inner, tc.mode), WithBlackboard(outerBB))

		require.Equal(t, Success, outer.Tick(time.Second), tc.mode.String())
		assert.Equal(t, tc.outerWrites, outerBB.Contains("written"), tc.mode.String())

		target := outerBB
		if !tc.outerWrites {
			target = inner.Blackboard()
		}
		assert.Equal(t, tc.innerReads, blackboard.Get[string](target, "seen"), tc.mode.String())
	}
}

func TestSubTree_InterruptReachesInnerNodes(t *testing.T) {
	t.Parallel()

	innerAction := newProbe("inner", Running)
	inner := mustTree(t, NewSequence("inner-seq", NewAction("inner-act", innerAction)))

	guard := &flag{}
	outer := mustTree(t, NewSelector("sel",
		NewCondition("cond", guard.cond()),
		NewSubTree("sub", inner, Shared),
	))

	require.Equal(t, Running, outer.Tick(time.Second))
	guard.v = true
	require.Equal(t, Success, outer.Tick(time.Second))
	assert.Equal(t, 1, innerAction.stops)

	root := inner.Root()
	assert.False(t, root.Started())
}

func TestParseBlackboardMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]BlackboardMode{"": Shared, "shared": Shared, "isolated": Isolated, "scoped": Scoped} {
		got, err := ParseBlackboardMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseBlackboardMode("global")
	assert.Error(t, err)
}
