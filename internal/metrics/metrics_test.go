package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientTree/internal/events"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.Tick("t", "success", time.Millisecond)
	c.NodeResult("t", "action", "success")
	c.Interrupt("t", "action")
	c.Fault("t", "action", "update")
	c.ServiceUpdate("t", "sense")
	c.Save("redis", nil)
	c.SetConnected("redis", true)
	c.WatchEventLog(events.NewLog(4))
}

func TestCollector_Counts(t *testing.T) {
	c := New()
	c.Tick("t1", "running", time.Millisecond)
	c.Tick("t1", "running", time.Millisecond)
	c.Tick("t1", "success", time.Millisecond)
	c.NodeResult("t1", "action", "failure")
	c.Interrupt("t1", "action")
	c.Fault("t1", "action", "update")
	c.Save("postgres", errors.New("boom"))
	c.SetConnected("mqtt", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticks.WithLabelValues("t1", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues("t1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeResults.WithLabelValues("t1", "action", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.interrupts.WithLabelValues("t1", "action")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.faults.WithLabelValues("t1", "action", "update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.saves.WithLabelValues("postgres", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected.WithLabelValues("mqtt")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	log := events.NewLog(8)
	c.WatchEventLog(log)
	log.Emit("info", "system.startup", "", nil)
	c.ServiceUpdate("t1", "sense")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"sentient_events_total 1",
		`sentient_service_updates_total{service="sense",tree="t1"} 1`,
		"sentient_uptime_seconds",
		"sentient_build_info",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
