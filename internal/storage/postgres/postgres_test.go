package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/events"
)

func TestDSNFromEnv(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "6543")
	t.Setenv("PGUSER", "trees")
	t.Setenv("PGPASSWORD", "")
	t.Setenv("PGDATABASE", "engine")
	t.Setenv("PGSSLMODE", "")

	dsn := DSNFromEnv()
	want := "host=db.internal port=6543 user=trees dbname=engine sslmode=disable"
	if dsn != want {
		t.Errorf("expected %q, got %q", want, dsn)
	}

	t.Setenv("PGPASSWORD", "s3cret")
	if !strings.Contains(DSNFromEnv(), "password=s3cret") {
		t.Errorf("expected password in dsn")
	}
}

// The remaining tests need a reachable database; set SENTIENT_TEST_POSTGRES
// to run them.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("SENTIENT_TEST_POSTGRES") == "" {
		t.Skip("SENTIENT_TEST_POSTGRES not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, "test-"+uuid.NewString())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBlackboardRoundTrip(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	scope := "tree-" + uuid.NewString()

	if _, err := c.LoadEntries(ctx, scope); !errors.Is(err, blackboard.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	bb := blackboard.New()
	bb.Set("hp", 42)
	bb.Set("name", "guard")
	bb.Set("cooldown", 1500*time.Millisecond)
	if err := blackboard.Save(ctx, c, scope, bb); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := blackboard.New()
	n, err := blackboard.Load(ctx, c, scope, restored)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}
	if got := restored.Keys(); strings.Join(got, ",") != "hp,name,cooldown" {
		t.Errorf("expected insertion order, got %v", got)
	}
	if v := blackboard.Get[time.Duration](restored, "cooldown"); v != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", v)
	}

	// An empty save still counts as a snapshot.
	if err := blackboard.Save(ctx, c, scope, blackboard.New()); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	entries, err := c.LoadEntries(ctx, scope)
	if err != nil || len(entries) != 0 {
		t.Errorf("expected empty snapshot, got %v, %v", entries, err)
	}
}

func TestEventSink(t *testing.T) {
	c := openTestClient(t)

	log := events.NewLog(16)
	log.SetSink(c)
	if _, err := log.Emit("info", "tree.loaded", "guard", map[string]interface{}{"nodes": 6}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	log.SetSink(nil)

	rows, err := c.Query(context.Background(), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].Event != "tree.loaded" {
		t.Fatalf("expected one tree.loaded row, got %+v", rows)
	}
	if rows[0].Message == nil || *rows[0].Message != "guard" {
		t.Errorf("expected message guard")
	}
}
