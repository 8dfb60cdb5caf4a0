package leaf

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/port"
)

// Wait runs until its duration has elapsed on the tree clock. The duration
// is read from the "duration" input when the action starts.
type Wait struct {
	Duration time.Duration

	until time.Duration
}

func (w *Wait) Ports() []port.Descriptor {
	return []port.Descriptor{port.In[time.Duration]("duration", w.Duration)}
}

func (w *Wait) OnStart(ctx *bt.TickContext) {
	d, ok := bt.Input[time.Duration](ctx, "duration")
	if !ok {
		d = w.Duration
	}
	w.until = ctx.Now() + d
}

func (w *Wait) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	if ctx.Now() >= w.until {
		return bt.Success, nil
	}
	return bt.Running, nil
}

func (w *Wait) OnStop(*bt.TickContext) {}

// Log writes a message with the values of Keys and records a leaf.log event.
type Log struct {
	Message string
	Level   zapcore.Level
	Keys    []string
}

func (l *Log) OnStart(*bt.TickContext) {}
func (l *Log) OnStop(*bt.TickContext)  {}

func (l *Log) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	fields := map[string]interface{}{"message": l.Message}
	zf := make([]zap.Field, 0, len(l.Keys))
	for _, k := range l.Keys {
		v, _ := ctx.Blackboard.Lookup(k)
		fields[k] = v
		zf = append(zf, zap.Any(k, v))
	}
	if ce := ctx.Logger().Check(l.Level, l.Message); ce != nil {
		ce.Write(zf...)
	}
	ctx.Emit(eventLevel(l.Level), "leaf.log", fields)
	return bt.Success, nil
}

// eventLevel maps a zap level onto the event log's level names.
func eventLevel(l zapcore.Level) string {
	switch {
	case l <= zapcore.DebugLevel:
		return "debug"
	case l == zapcore.InfoLevel:
		return "info"
	case l == zapcore.WarnLevel:
		return "warning"
	default:
		return "error"
	}
}

// SetValue writes the "value" input to Key on the blackboard.
type SetValue struct {
	Key   string
	Value any
}

func (s *SetValue) Ports() []port.Descriptor {
	return []port.Descriptor{port.In[any]("value", s.Value)}
}

func (s *SetValue) OnStart(*bt.TickContext) {}
func (s *SetValue) OnStop(*bt.TickContext)  {}

func (s *SetValue) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	v, ok := ctx.Input("value")
	if !ok {
		return bt.Failure, fmt.Errorf("set %s: no value", s.Key)
	}
	ctx.Blackboard.Set(s.Key, v)
	return bt.Success, nil
}

// Raise publishes on Channel through the tree's event bus. The payload is
// the value of PayloadKey when set, otherwise the "payload" input.
type Raise struct {
	Channel    string
	Payload    any
	PayloadKey string
}

func (r *Raise) Ports() []port.Descriptor {
	return []port.Descriptor{port.In[any]("payload", r.Payload)}
}

func (r *Raise) OnStart(*bt.TickContext) {}
func (r *Raise) OnStop(*bt.TickContext)  {}

func (r *Raise) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	var payload any
	if r.PayloadKey != "" {
		payload, _ = ctx.Blackboard.Lookup(r.PayloadKey)
	} else {
		payload, _ = ctx.Input("payload")
	}
	if err := ctx.Raise(r.Channel, payload); err != nil {
		return bt.Failure, fmt.Errorf("raise %s: %w", r.Channel, err)
	}
	ctx.Emit("info", "leaf.raise", map[string]interface{}{"channel": r.Channel})
	return bt.Success, nil
}
