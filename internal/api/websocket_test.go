package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SentientTree/internal/events"
)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func startWS(t *testing.T, s *Server) string {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	log := events.NewLog(64)
	for i := 0; i < 5; i++ {
		log.Emit("info", "node.started", "", map[string]interface{}{"i": i})
	}
	url := startWS(t, New(Options{Log: log}))

	conn := dial(t, url)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		e := readEvent(t, conn)
		if e.Name != "node.started" {
			t.Errorf("expected 'node.started', got '%s'", e.Name)
		}
		if e.Fields["i"] != float64(i) {
			t.Errorf("expected recent events oldest first, got %v at %d", e.Fields["i"], i)
		}
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	log := events.NewLog(64)
	url := startWS(t, New(Options{Log: log}))

	conn := dial(t, url)
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return log.SubscriberCount() == 1 }, "subscriber to register")
	log.Emit("info", "tree.completed", "", map[string]interface{}{"status": "success"})

	e := readEvent(t, conn)
	if e.Name != "tree.completed" {
		t.Errorf("expected 'tree.completed', got '%s'", e.Name)
	}
	if e.Fields["status"] != "success" {
		t.Errorf("expected status 'success', got '%v'", e.Fields["status"])
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	log := events.NewLog(64)
	url := startWS(t, New(Options{Log: log}))

	conn := dial(t, url)
	waitFor(t, 2*time.Second, func() bool { return log.SubscriberCount() == 1 }, "subscriber to register")
	conn.Close()

	waitFor(t, 5*time.Second, func() bool {
		return log.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	log := events.NewLog(64)
	url := startWS(t, New(Options{Log: log}))

	conn1 := dial(t, url)
	defer conn1.Close()
	conn2 := dial(t, url)
	defer conn2.Close()

	waitFor(t, 2*time.Second, func() bool { return log.SubscriberCount() == 2 }, "both subscribers to register")
	log.Emit("warning", "operator.abort", "", map[string]interface{}{"reason": "drill"})

	if e := readEvent(t, conn1); e.Name != "operator.abort" {
		t.Errorf("client1: expected 'operator.abort', got '%s'", e.Name)
	}
	if e := readEvent(t, conn2); e.Name != "operator.abort" {
		t.Errorf("client2: expected 'operator.abort', got '%s'", e.Name)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	log := events.NewLog(64)
	s := New(Options{Log: log})
	url := startWS(t, s)

	conn := dial(t, url)
	defer conn.Close()
	waitFor(t, 2*time.Second, func() bool { return log.SubscriberCount() == 1 }, "subscriber to register")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestWebSocketRequiresAuth(t *testing.T) {
	url := startWS(t, New(Options{Auth: testAuth()}))
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 handshake response, got %v", resp)
	}
}
