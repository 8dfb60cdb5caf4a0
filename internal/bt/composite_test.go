package bt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTree(t *testing.T, root *Node, opts ...Option) *Tree {
	t.Helper()
	tree, err := NewTree(root, opts...)
	require.NoError(t, err)
	return tree
}

func TestSelector_ShortCircuitsOnSuccess(t *testing.T) {
	t.Parallel()

	first := newProbe("first", Failure)
	second := newProbe("second", Success)
	third := newProbe("third", Success)
	tree := mustTree(t, NewSelector("sel",
		NewAction("a", first),
		NewAction("b", second),
		NewAction("c", third),
	))

	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, first.updates)
	assert.Equal(t, 1, second.updates)
	assert.Zero(t, third.starts, "no sibling after a success is evaluated")
}

func TestSelector_AllFail(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, NewSelector("sel",
		NewAction("a", always(Failure)),
		NewCondition("b", ConditionFunc(func(*TickContext) bool { return false })),
	))
	require.Equal(t, Failure, tree.Tick(time.Second))
}

func TestSelector_InterruptsAbandonedRunningChild(t *testing.T) {
	t.Parallel()

	guard := &flag{}
	action := newProbe("act", Running)
	tree := mustTree(t, NewSelector("sel",
		NewCondition("cond", guard.cond()),
		NewAction("act", action),
	))

	require.Equal(t, Running, tree.Tick(time.Second))
	require.Equal(t, 1, action.starts)
	require.Zero(t, action.stops)

	guard.v = true
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, action.stops, "abandoned child stopped exactly once")
	assert.Equal(t, 1, action.updates, "abandoned child is not updated on the interrupting tick")

	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, action.stops)

	n, _ := tree.Node("act")
	assert.False(t, n.Started())
	assert.Equal(t, Inactive, n.State())
}

func TestSequence_ShortCircuitsOnFailure(t *testing.T) {
	t.Parallel()

	after := newProbe("after")
	tree := mustTree(t, NewSequence("seq",
		NewAction("a", always(Success)),
		NewAction("b", always(Failure)),
		NewAction("c", after),
	))

	require.Equal(t, Failure, tree.Tick(time.Second))
	assert.Zero(t, after.starts)
}

func TestSequence_ResumesRunningChild(t *testing.T) {
	t.Parallel()

	first := newProbe("first", Success)
	second := newProbe("second", Running, Success)
	tree := mustTree(t, NewSequence("seq", NewAction("a", first), NewAction("b", second)))

	require.Equal(t, Running, tree.Tick(time.Second))
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, first.updates, "completed children are not re-run while the sequence is running")
	assert.Equal(t, 1, second.starts)
	assert.Equal(t, 2, second.updates)

	// a fresh evaluation restarts at the first child
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 2, first.updates)
	assert.Equal(t, 2, second.starts)
}

func TestSequence_EndToEndWait(t *testing.T) {
	t.Parallel()

	logged := 0
	tree := mustTree(t, NewSequence("seq",
		NewCondition("ready", ConditionFunc(func(*TickContext) bool { return true })),
		NewAction("wait", &waitFor{d: 2 * time.Second}),
		NewAction("log", ActionFunc(func(*TickContext) (Status, error) {
			logged++
			return Success, nil
		})),
	))

	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Running, tree.Tick(time.Second))
	assert.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, logged)
}

func TestRandomSelector_DeterministicWithSeed(t *testing.T) {
	t.Parallel()

	build := func() (*Tree, *RandomSelector) {
		policy := &RandomSelector{}
		children := make([]*Node, 6)
		for i := range children {
			children[i] = NewAction("", always(Running))
		}
		return mustTree(t, NewComposite("rs", policy, children...), WithSeed(42)), policy
	}

	t1, p1 := build()
	t2, p2 := build()
	t1.Tick(time.Second)
	t2.Tick(time.Second)
	require.Equal(t, p1.Order(), p2.Order())
}

func TestRandomSelector_KeepsPermutationWhileRunning(t *testing.T) {
	t.Parallel()

	policy := &RandomSelector{}
	probes := make([]*probe, 4)
	children := make([]*Node, 4)
	for i := range probes {
		probes[i] = newProbe("p", Running)
		children[i] = NewAction("", probes[i])
	}
	tree := mustTree(t, NewComposite("rs", policy, children...), WithSeed(7))

	require.Equal(t, Running, tree.Tick(time.Second))
	order := append([]int(nil), policy.Order()...)
	require.Len(t, order, 4)

	for i := 0; i < 5; i++ {
		require.Equal(t, Running, tree.Tick(time.Second))
		require.Equal(t, order, policy.Order())
	}
	assert.Equal(t, 1, probes[order[0]].starts, "running child keeps its position and is not restarted")
	for _, i := range order[1:] {
		assert.Zero(t, probes[i].starts)
	}
}

func TestParallel_DefaultThresholds(t *testing.T) {
	t.Parallel()

	quick := newProbe("quick", Success)
	slow := newProbe("slow", Running, Success)
	tree := mustTree(t, NewParallel("par", 0, 0, NewAction("q", quick), NewAction("s", slow)))

	require.Equal(t, Running, tree.Tick(time.Second), "all children must succeed by default")
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, quick.updates, "finished children are not re-ticked")
}

func TestParallel_AnyFailureFailsByDefault(t *testing.T) {
	t.Parallel()

	runner := newProbe("runner", Running)
	tree := mustTree(t, NewParallel("par", 0, 0, NewAction("r", runner), NewAction("f", always(Failure))))

	require.Equal(t, Failure, tree.Tick(time.Second))
	assert.Equal(t, 1, runner.stops, "running children are interrupted when the parallel finishes")
}

func TestParallel_Thresholds(t *testing.T) {
	t.Parallel()

	runner := newProbe("runner", Running)
	tree := mustTree(t, NewParallel("par", 1, 0, NewAction("ok", always(Success)), NewAction("r", runner)))
	require.Equal(t, Success, tree.Tick(time.Second))
	assert.Equal(t, 1, runner.stops)

	both := mustTree(t, NewParallel("par", 1, 1, NewAction("ok", always(Success)), NewAction("ko", always(Failure))))
	assert.Equal(t, Failure, both.Tick(time.Second), "failure wins when both thresholds are met")

	tolerant := mustTree(t, NewParallel("par", 0, 2, NewAction("ok", always(Success)), NewAction("ko", always(Failure))))
	assert.Equal(t, Failure, tolerant.Tick(time.Second), "all finished without reaching a threshold")
}

func TestComposite_NoChildrenFails(t *testing.T) {
	t.Parallel()

	for _, root := range []*Node{
		NewSelector("sel"),
		NewSequence("seq"),
		NewRandomSelector("rs"),
		NewParallel("par", 0, 0),
	} {
		tree := mustTree(t, root)
		assert.Equal(t, Failure, tree.Tick(time.Second), root.ID)
	}
}
