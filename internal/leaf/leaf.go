// Package leaf provides general purpose actions, conditions and services and
// registers them with an asset registry.
package leaf

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/AaronLay10/SentientTree/internal/asset"
	"github.com/AaronLay10/SentientTree/internal/bt"
)

// Register adds every leaf type of this package to reg.
func Register(reg *asset.Registry) error {
	return errors.Join(
		reg.RegisterAction("wait", "runs for duration, read from the duration port", newWait),
		reg.RegisterAction("log", "writes message at level with the listed blackboard keys", newLog),
		reg.RegisterAction("set_value", "writes the value port to key", newSetValue),
		reg.RegisterAction("raise", "publishes a payload on channel", newRaise),
		reg.RegisterAction("wait_for_event", "runs until an event arrives on channel or timeout passes", newWaitForEvent),
		reg.RegisterAction("require_keys", "succeeds when every listed key is present on the blackboard", newRequireKeys),
		reg.RegisterCondition("compare_value", "compares key with value using op", newCompareValue),
		reg.RegisterCondition("expr", "evaluates a boolean expression over the blackboard", newExprCondition),
		reg.RegisterService("counter", "adds step to an integer key", newCounter),
		reg.RegisterService("copy", "copies from one key to another", newCopy),
	)
}

func newWait(cfg asset.Config) (bt.Action, error) {
	var p struct {
		Duration time.Duration `mapstructure:"duration"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Duration < 0 {
		return nil, fmt.Errorf("wait duration must not be negative")
	}
	return &Wait{Duration: p.Duration}, nil
}

func newLog(cfg asset.Config) (bt.Action, error) {
	p := struct {
		Message string   `mapstructure:"message"`
		Level   string   `mapstructure:"level"`
		Keys    []string `mapstructure:"keys"`
	}{Level: "info"}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	level, err := zapcore.ParseLevel(p.Level)
	if err != nil {
		return nil, err
	}
	return &Log{Message: p.Message, Level: level, Keys: p.Keys}, nil
}

func newSetValue(cfg asset.Config) (bt.Action, error) {
	var p struct {
		Key   string `mapstructure:"key"`
		Value any    `mapstructure:"value"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, errMissing("set_value", "key")
	}
	return &SetValue{Key: p.Key, Value: p.Value}, nil
}

func newRaise(cfg asset.Config) (bt.Action, error) {
	var p struct {
		Channel    string `mapstructure:"channel"`
		Payload    any    `mapstructure:"payload"`
		PayloadKey string `mapstructure:"payload_key"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, errMissing("raise", "channel")
	}
	return &Raise{Channel: p.Channel, Payload: p.Payload, PayloadKey: p.PayloadKey}, nil
}

func newWaitForEvent(cfg asset.Config) (bt.Action, error) {
	var p struct {
		Channel  string        `mapstructure:"channel"`
		Timeout  time.Duration `mapstructure:"timeout"`
		StoreKey string        `mapstructure:"store_key"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, errMissing("wait_for_event", "channel")
	}
	return &WaitForEvent{Channel: p.Channel, Timeout: p.Timeout, StoreKey: p.StoreKey}, nil
}

func newRequireKeys(cfg asset.Config) (bt.Action, error) {
	var p struct {
		Keys []string `mapstructure:"keys"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if len(p.Keys) == 0 {
		return nil, errMissing("require_keys", "keys")
	}
	return RequireKeys(p.Keys...), nil
}

func newCompareValue(cfg asset.Config) (bt.Condition, error) {
	var p struct {
		Key   string `mapstructure:"key"`
		Op    string `mapstructure:"op"`
		Value any    `mapstructure:"value"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, errMissing("compare_value", "key")
	}
	return NewCompareValue(p.Key, p.Op, p.Value)
}

func newExprCondition(cfg asset.Config) (bt.Condition, error) {
	var p struct {
		Expr string `mapstructure:"expr"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	return NewExprCondition(p.Expr)
}

func newCounter(cfg asset.Config) (bt.ServiceBehavior, error) {
	p := struct {
		Key  string `mapstructure:"key"`
		Step int    `mapstructure:"step"`
	}{Step: 1}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, errMissing("counter", "key")
	}
	return &Counter{Key: p.Key, Step: p.Step}, nil
}

func newCopy(cfg asset.Config) (bt.ServiceBehavior, error) {
	var p struct {
		From string `mapstructure:"from"`
		To   string `mapstructure:"to"`
	}
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.From == "" || p.To == "" {
		return nil, errMissing("copy", "from and to")
	}
	return &Copy{From: p.From, To: p.To}, nil
}

func errMissing(typ, field string) error {
	return fmt.Errorf("%s requires %s", typ, field)
}
