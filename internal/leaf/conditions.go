package leaf

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// CompareValue holds when the blackboard value of Key compares to Value with
// Op. Numbers compare across int and float types. A missing key or values
// that cannot be compared do not hold.
type CompareValue struct {
	Key   string
	Op    string
	Value any

	program *vm.Program
}

// NewCompareValue compiles the comparison. op defaults to "==".
func NewCompareValue(key, op string, value any) (*CompareValue, error) {
	if op == "" {
		op = "=="
	}
	if !compareOps[op] {
		return nil, fmt.Errorf("compare_value: unsupported operator %q", op)
	}
	program, err := expr.Compile("lhs "+op+" rhs", expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &CompareValue{Key: key, Op: op, Value: value, program: program}, nil
}

func (c *CompareValue) CheckCondition(ctx *bt.TickContext) bool {
	v, ok := ctx.Blackboard.Lookup(c.Key)
	if !ok {
		return false
	}
	out, err := expr.Run(c.program, map[string]any{"lhs": v, "rhs": c.Value})
	if err != nil {
		ctx.Logger().Debug("comparison failed", zap.String("key", c.Key), zap.Error(err))
		return false
	}
	b, _ := out.(bool)
	return b
}

// ExprCondition holds when its expression evaluates to true over the
// blackboard.
type ExprCondition struct {
	pred *bt.ExprPredicate
}

func NewExprCondition(src string) (*ExprCondition, error) {
	p, err := bt.CompileExpr(src)
	if err != nil {
		return nil, err
	}
	return &ExprCondition{pred: p}, nil
}

func (e *ExprCondition) CheckCondition(ctx *bt.TickContext) bool {
	ok, err := e.pred.Eval(ctx.Blackboard)
	if err != nil {
		ctx.Logger().Warn("expression condition failed", zap.String("expr", e.pred.Source()), zap.Error(err))
		return false
	}
	return ok
}
