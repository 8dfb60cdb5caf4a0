package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	log := NewLog(16)

	sub1 := log.Subscribe()
	if log.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber after first subscribe, got %d", log.SubscriberCount())
	}

	sub2 := log.Subscribe()
	if log.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers after second subscribe, got %d", log.SubscriberCount())
	}

	log.Unsubscribe(sub1)
	if log.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe, got %d", log.SubscriberCount())
	}

	log.Unsubscribe(sub2)
	log.Unsubscribe(sub2)
	if log.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after all unsubscribed, got %d", log.SubscriberCount())
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	log := NewLog(16)
	sub := log.Subscribe()
	defer log.Unsubscribe(sub)

	if _, err := log.Emit("info", "node.started", "test", map[string]interface{}{"node_id": "test_node"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case e := <-sub:
		if e.Name != "node.started" {
			t.Errorf("expected event name 'node.started', got '%s'", e.Name)
		}
		if e.Fields["node_id"] != "test_node" {
			t.Errorf("expected node_id 'test_node', got '%v'", e.Fields["node_id"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestEmitRejectsUnknownEvent(t *testing.T) {
	log := NewLog(16)
	if _, err := log.Emit("info", "scene.started", "", nil); err == nil {
		t.Error("expected error for unknown event name")
	}
	if len(log.Snapshot()) != 0 {
		t.Error("rejected event must not be buffered")
	}
}

func TestRecentEvents(t *testing.T) {
	log := NewLog(16)

	for i := 0; i < 10; i++ {
		log.Emit("info", "node.started", "", map[string]interface{}{"i": i})
	}

	recent := log.Recent(5)
	if len(recent) != 5 {
		t.Errorf("expected 5 recent events, got %d", len(recent))
	}

	// First recent event should be i=5 (the 6th event, since we're getting last 5)
	if recent[0].Fields["i"] != 5 {
		t.Errorf("expected first recent event i=5, got %v", recent[0].Fields["i"])
	}

	all := log.Recent(100)
	if len(all) != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", len(all))
	}

	zero := log.Recent(0)
	if len(zero) != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", len(zero))
	}
}

func TestRingBufferWraps(t *testing.T) {
	log := NewLog(4)
	for i := 0; i < 6; i++ {
		log.Emit("info", "node.completed", "", map[string]interface{}{"i": i})
	}

	snap := log.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 buffered events, got %d", len(snap))
	}
	if snap[0].Fields["i"] != 2 || snap[3].Fields["i"] != 5 {
		t.Errorf("expected oldest i=2 and newest i=5, got %v and %v", snap[0].Fields["i"], snap[3].Fields["i"])
	}
	if log.TotalCount() != 6 {
		t.Errorf("expected total 6, got %d", log.TotalCount())
	}

	log.Clear()
	if len(log.Snapshot()) != 0 {
		t.Error("expected empty buffer after Clear")
	}
}

type failingSink struct {
	calls int
}

func (s *failingSink) Append(time.Time, string, string, string, map[string]interface{}) error {
	s.calls++
	return errors.New("connection refused")
}

func TestSinkFailureRecordedOnce(t *testing.T) {
	log := NewLog(16)
	sink := &failingSink{}
	log.SetSink(sink)

	for i := 0; i < 3; i++ {
		if _, err := log.Emit("info", "node.started", "", nil); err != nil {
			t.Fatalf("emit should not fail on sink error: %v", err)
		}
	}
	log.SetSink(nil)

	if sink.calls != 3 {
		t.Errorf("expected 3 sink calls, got %d", sink.calls)
	}
	if n := log.Count("system.error"); n != 1 {
		t.Errorf("expected exactly one system.error, got %d", n)
	}
}

// blockingSink holds every append until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	names   []string
}

func (s *blockingSink) Append(_ time.Time, _, event, _ string, _ map[string]interface{}) error {
	<-s.release
	s.mu.Lock()
	s.names = append(s.names, event)
	s.mu.Unlock()
	return nil
}

func TestSlowSinkDoesNotBlockEmit(t *testing.T) {
	log := NewLog(16)
	sink := &blockingSink{release: make(chan struct{})}
	log.SetSink(sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Emit("info", "node.started", "", nil)
		log.Emit("info", "node.completed", "", nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on the sink")
	}

	close(sink.release)
	log.SetSink(nil)

	if len(sink.names) != 2 || sink.names[0] != "node.started" || sink.names[1] != "node.completed" {
		t.Errorf("expected both events in emit order, got %v", sink.names)
	}
}

func TestSinkQueueFullRecordedOnce(t *testing.T) {
	log := NewLog(2 * SinkQueueSize)
	sink := &blockingSink{release: make(chan struct{})}
	log.SetSink(sink)

	// One event is held by the writer, the rest fill the queue.
	for i := 0; i < SinkQueueSize+5; i++ {
		log.Emit("info", "node.started", "", nil)
	}

	if n := log.Count("system.error"); n != 1 {
		t.Errorf("expected exactly one system.error, got %d", n)
	}

	close(sink.release)
	log.SetSink(nil)

	if len(sink.names) < SinkQueueSize || len(sink.names) > SinkQueueSize+1 {
		t.Errorf("expected the queued events to be written, got %d", len(sink.names))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	log := NewLog(16)
	sub := log.Subscribe()
	log.Unsubscribe(sub)

	_, ok := <-sub
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestCloseAllSubscribers(t *testing.T) {
	log := NewLog(16)

	sub1 := log.Subscribe()
	sub2 := log.Subscribe()
	sub3 := log.Subscribe()

	if log.SubscriberCount() != 3 {
		t.Errorf("expected 3 subscribers, got %d", log.SubscriberCount())
	}

	log.CloseAllSubscribers()

	_, ok1 := <-sub1
	_, ok2 := <-sub2
	_, ok3 := <-sub3

	if ok1 || ok2 || ok3 {
		t.Error("expected all channels to be closed")
	}

	if log.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after CloseAllSubscribers, got %d", log.SubscriberCount())
	}
}
