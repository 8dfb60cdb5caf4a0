package leaf

import (
	"sync"
	"time"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

// WaitForEvent subscribes to Channel when it starts and succeeds on the
// first tick after an event has arrived, storing the payload under StoreKey
// when one is set. A positive Timeout makes it fail once that much tree time
// has passed without an event.
//
// Events may be delivered from other goroutines. They are only observed
// during a tick.
type WaitForEvent struct {
	Channel  string
	Timeout  time.Duration
	StoreKey string

	mu          sync.Mutex
	received    bool
	payload     any
	startedAt   time.Duration
	unsubscribe func()
	err         error
}

func (w *WaitForEvent) OnStart(ctx *bt.TickContext) {
	w.mu.Lock()
	w.received, w.payload = false, nil
	w.mu.Unlock()

	w.startedAt = ctx.Now()
	w.unsubscribe, w.err = ctx.Subscribe(w.Channel, w.receive)
}

func (w *WaitForEvent) receive(payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.received {
		return
	}
	w.received = true
	w.payload = payload
}

func (w *WaitForEvent) OnUpdate(ctx *bt.TickContext) (bt.Status, error) {
	if w.err != nil {
		return bt.Failure, w.err
	}

	w.mu.Lock()
	received, payload := w.received, w.payload
	w.mu.Unlock()

	if received {
		if w.StoreKey != "" {
			ctx.Blackboard.Set(w.StoreKey, payload)
		}
		return bt.Success, nil
	}
	if w.Timeout > 0 && ctx.Now()-w.startedAt >= w.Timeout {
		return bt.Failure, nil
	}
	return bt.Running, nil
}

func (w *WaitForEvent) OnStop(*bt.TickContext) {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}
