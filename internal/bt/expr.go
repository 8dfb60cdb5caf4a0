package bt

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
)

// ExprPredicate is a boolean expression over the values visible from a
// blackboard, including inherited ones. Unknown keys evaluate to nil.
type ExprPredicate struct {
	source  string
	program *vm.Program
}

// CompileExpr compiles src once. Syntax errors are reported here, before any
// tick.
func CompileExpr(src string) (*ExprPredicate, error) {
	program, err := expr.Compile(src,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &ExprPredicate{source: src, program: program}, nil
}

// Source returns the expression text.
func (p *ExprPredicate) Source() string {
	return p.source
}

// Eval runs the expression against the visible values of bb.
func (p *ExprPredicate) Eval(bb *blackboard.Blackboard) (bool, error) {
	env := map[string]any{}
	if bb != nil {
		env = bb.Visible()
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate expression %q: %w", p.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T", p.source, out)
	}
	return b, nil
}

// NewExprConditional wraps child in a BlackboardConditional driven by the
// expression src.
func NewExprConditional(id, src string, child *Node) (*Node, error) {
	p, err := CompileExpr(src)
	if err != nil {
		return nil, err
	}
	return NewDecorator(id, &BlackboardConditional{Predicate: p.Eval, Source: src}, child), nil
}
