package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/leaf"
)

// fakeTransport loops published messages back to subscribed handlers.
type fakeTransport struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	published     map[string][][]byte
	subscribes    int
	unsubscribes  int
	failSubscribe error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscriptions: make(map[string]paho.MessageHandler),
		published:     make(map[string][][]byte),
	}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	f.published[topic] = append(f.published[topic], payload)
	handler, ok := f.subscriptions[topic]
	f.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler paho.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe != nil {
		return f.failSubscribe
	}
	f.subscribes++
	f.subscriptions[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes++
	delete(f.subscriptions, topic)
	return nil
}

func (f *fakeTransport) simulate(topic string, payload []byte) {
	f.mu.Lock()
	handler, ok := f.subscriptions[topic]
	f.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

func TestBusPublishEncodesJSON(t *testing.T) {
	ft := newFakeTransport()
	bus := NewBus(ft, "sentient/trees/", nil)

	if err := bus.Publish("door", map[string]any{"open": true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := ft.published["sentient/trees/door"]
	if len(got) != 1 || string(got[0]) != `{"open":true}` {
		t.Errorf("unexpected published payload: %q", got)
	}

	if err := bus.Publish("", 1); !errors.Is(err, ErrEmptyChannel) {
		t.Errorf("expected ErrEmptyChannel, got %v", err)
	}
}

func TestBusSubscribeSharesBrokerSubscription(t *testing.T) {
	ft := newFakeTransport()
	bus := NewBus(ft, "t/", nil)

	var mu sync.Mutex
	var a, b []any
	unsubA, err := bus.Subscribe("door", func(p any) { mu.Lock(); a = append(a, p); mu.Unlock() })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubB, err := bus.Subscribe("door", func(p any) { mu.Lock(); b = append(b, p); mu.Unlock() })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ft.subscribes != 1 {
		t.Errorf("expected 1 broker subscription, got %d", ft.subscribes)
	}

	ft.simulate("t/door", []byte(`{"state":"open"}`))
	ft.simulate("t/door", []byte(`not json`))

	mu.Lock()
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected both handlers to see 2 messages, got %d and %d", len(a), len(b))
	}
	if m, ok := a[0].(map[string]any); !ok || m["state"] != "open" {
		t.Errorf("expected decoded JSON object, got %#v", a[0])
	}
	if a[1] != "not json" {
		t.Errorf("expected raw string fallback, got %#v", a[1])
	}
	mu.Unlock()

	unsubA()
	unsubA()
	if ft.unsubscribes != 0 {
		t.Errorf("broker subscription must stay while a handler remains")
	}
	unsubB()
	if ft.unsubscribes != 1 {
		t.Errorf("expected broker unsubscribe after last handler, got %d", ft.unsubscribes)
	}
	if bus.Channels() != 0 {
		t.Errorf("expected no channels, got %d", bus.Channels())
	}
}

func TestBusSubscribeError(t *testing.T) {
	ft := newFakeTransport()
	ft.failSubscribe = errors.New("not connected")
	bus := NewBus(ft, "t/", nil)

	if _, err := bus.Subscribe("door", func(any) {}); err == nil {
		t.Error("expected subscribe error")
	}
	if bus.Channels() != 0 {
		t.Errorf("failed subscribe must not register the channel")
	}
}

func TestBusResubscribe(t *testing.T) {
	ft := newFakeTransport()
	bus := NewBus(ft, "t/", nil)

	if _, err := bus.Subscribe("door", func(any) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe("alarm", func(any) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ft.mu.Lock()
	ft.subscriptions = make(map[string]paho.MessageHandler)
	ft.mu.Unlock()

	bus.Resubscribe()
	if len(ft.subscriptions) != 2 {
		t.Errorf("expected 2 restored subscriptions, got %d", len(ft.subscriptions))
	}
}

func TestBusDrivesTree(t *testing.T) {
	ft := newFakeTransport()
	bus := NewBus(ft, "t/", nil)

	wait := &leaf.WaitForEvent{Channel: "door", StoreKey: "door"}
	tree, err := bt.NewTree(bt.NewAction("wait", wait), bt.WithEventBus(bus))
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	if s := tree.Tick(10 * time.Millisecond); s != bt.Running {
		t.Fatalf("expected Running, got %s", s)
	}

	// Delivered from another goroutine, as paho does.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ft.simulate("t/door", []byte(`"open"`))
	}()
	<-done

	if s := tree.Tick(10 * time.Millisecond); s != bt.Success {
		t.Fatalf("expected Success, got %s", s)
	}
	if v, _ := blackboard.TryGet[string](tree.Blackboard(), "door"); v != "open" {
		t.Errorf("expected stored payload open, got %q", v)
	}
	if bus.Channels() != 0 {
		t.Errorf("expected the leaf to release its subscription")
	}
}
