package asset

import (
	"fmt"
	"time"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

func registerBuiltins(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.RegisterComposite("selector", "first child that does not fail, re-evaluated by priority each tick",
		func(cfg Config) (bt.CompositePolicy, error) { return &bt.Selector{}, noConfig(cfg) }))
	must(r.RegisterComposite("sequence", "children in order, resuming at the running child",
		func(cfg Config) (bt.CompositePolicy, error) { return &bt.Sequence{}, noConfig(cfg) }))
	must(r.RegisterComposite("random_selector", "selector over a permutation drawn on every fresh run",
		func(cfg Config) (bt.CompositePolicy, error) { return &bt.RandomSelector{}, noConfig(cfg) }))
	must(r.RegisterComposite("parallel", "ticks every unfinished child; success_threshold and failure_threshold",
		func(cfg Config) (bt.CompositePolicy, error) {
			var p struct {
				SuccessThreshold int `mapstructure:"success_threshold"`
				FailureThreshold int `mapstructure:"failure_threshold"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			if p.SuccessThreshold < 0 || p.FailureThreshold < 0 {
				return nil, fmt.Errorf("parallel thresholds must not be negative")
			}
			return &bt.Parallel{SuccessThreshold: p.SuccessThreshold, FailureThreshold: p.FailureThreshold}, nil
		}))

	must(r.RegisterDecorator("inverter", "swaps success and failure",
		func(cfg Config) (bt.DecoratorPolicy, error) { return bt.Inverter{}, noConfig(cfg) }))
	must(r.RegisterDecorator("succeeder", "succeeds once the child finishes",
		func(cfg Config) (bt.DecoratorPolicy, error) { return bt.Succeeder{}, noConfig(cfg) }))
	must(r.RegisterDecorator("failer", "fails once the child finishes",
		func(cfg Config) (bt.DecoratorPolicy, error) { return bt.Failer{}, noConfig(cfg) }))
	must(r.RegisterDecorator("until_fail", "re-runs the child until it fails",
		func(cfg Config) (bt.DecoratorPolicy, error) { return bt.UntilFail{}, noConfig(cfg) }))
	must(r.RegisterDecorator("repeater", "re-runs the child count times, 0 for ever",
		func(cfg Config) (bt.DecoratorPolicy, error) {
			var p struct {
				Count int `mapstructure:"count"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			if p.Count < 0 {
				return nil, fmt.Errorf("repeater count must not be negative")
			}
			return &bt.Repeater{Count: p.Count}, nil
		}))
	must(r.RegisterDecorator("cooldown", "fails until duration has passed since the child last finished",
		func(cfg Config) (bt.DecoratorPolicy, error) {
			var p struct {
				Duration time.Duration `mapstructure:"duration"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			return &bt.Cooldown{Duration: p.Duration}, nil
		}))
	must(r.RegisterDecorator("time_limit", "fails and stops the child after limit",
		func(cfg Config) (bt.DecoratorPolicy, error) {
			var p struct {
				Limit time.Duration `mapstructure:"limit"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			if p.Limit <= 0 {
				return nil, fmt.Errorf("time_limit requires a positive limit")
			}
			return &bt.TimeLimit{Limit: p.Limit}, nil
		}))
	must(r.RegisterDecorator("probability", "enters the child with probability p",
		func(cfg Config) (bt.DecoratorPolicy, error) {
			var p struct {
				P float64 `mapstructure:"p"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			if p.P < 0 || p.P > 1 {
				return nil, fmt.Errorf("probability p must be within [0, 1], got %v", p.P)
			}
			return &bt.Probability{P: p.P}, nil
		}))
	must(r.RegisterDecorator("blackboard_conditional", "ticks the child only while expr holds over the blackboard",
		func(cfg Config) (bt.DecoratorPolicy, error) {
			var p struct {
				Expr string `mapstructure:"expr"`
			}
			if err := cfg.Decode(&p); err != nil {
				return nil, err
			}
			pred, err := bt.CompileExpr(p.Expr)
			if err != nil {
				return nil, err
			}
			return &bt.BlackboardConditional{Predicate: pred.Eval, Source: p.Expr}, nil
		}))
	must(r.RegisterDecorator(SubTreeType, "delegates to another tree of the document; tree and mode",
		func(Config) (bt.DecoratorPolicy, error) {
			return nil, fmt.Errorf("subtree nodes are built from their document")
		}))
}

func noConfig(cfg Config) error {
	return cfg.Decode(&struct{}{})
}
