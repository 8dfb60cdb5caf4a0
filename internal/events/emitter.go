// Package events records engine lifecycle events in a bounded in-memory log,
// fans them out to live subscribers and optionally persists them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink persists events. Appends run on one background goroutine per
// SetSink call, in emit order.
type Sink interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

// SinkQueueSize is how many events may wait for the sink before new ones
// are dropped.
const SinkQueueSize = 1024

// ErrSinkQueueFull is reported once when events are dropped because the
// sink cannot keep up.
var ErrSinkQueueFull = errors.New("event sink queue full")

// Log is the engine event log.
type Log struct {
	buffer      *RingBuffer
	broadcaster *Broadcaster
	total       atomic.Uint64

	sinkMu         sync.RWMutex
	writer         *sinkWriter
	sinkErrorShown bool
}

// NewLog returns a log keeping the last size events in memory.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 256
	}
	return &Log{
		buffer:      NewRingBuffer(size),
		broadcaster: newBroadcaster(),
	}
}

// SetSink sets the sink events are persisted to. A nil sink disables
// persistence. Events queued for the previous sink are written before
// SetSink returns.
func (l *Log) SetSink(s Sink) {
	var w *sinkWriter
	if s != nil {
		w = newSinkWriter(s, l.sinkFailed)
	}

	l.sinkMu.Lock()
	old := l.writer
	l.writer = w
	l.sinkMu.Unlock()

	if old != nil {
		old.close()
	}

	l.sinkMu.Lock()
	l.sinkErrorShown = false
	l.sinkMu.Unlock()
}

// Emit validates, records and broadcasts one event and returns its JSON
// encoding.
func (l *Log) Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	l.record(e)

	l.sinkMu.RLock()
	queued := l.writer == nil || l.writer.enqueue(sinkRecord{ts, level, name, msg, fields})
	l.sinkMu.RUnlock()
	if !queued {
		l.sinkFailed(ErrSinkQueueFull)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

// sinkFailed records the first sink failure directly in the buffer. Going
// through Emit would recurse into the failing sink.
func (l *Log) sinkFailed(err error) {
	l.sinkMu.Lock()
	if l.sinkErrorShown {
		l.sinkMu.Unlock()
		return
	}
	l.sinkErrorShown = true
	l.sinkMu.Unlock()

	l.record(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event sink write failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

type sinkRecord struct {
	ts     time.Time
	level  string
	name   string
	msg    string
	fields map[string]interface{}
}

// sinkWriter moves sink appends off the emitting goroutine, which is
// usually the tick loop.
type sinkWriter struct {
	sink  Sink
	queue chan sinkRecord
	done  chan struct{}
}

func newSinkWriter(s Sink, onErr func(error)) *sinkWriter {
	w := &sinkWriter{
		sink:  s,
		queue: make(chan sinkRecord, SinkQueueSize),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for r := range w.queue {
			if err := w.sink.Append(r.ts, r.level, r.name, r.msg, r.fields); err != nil {
				onErr(err)
			}
		}
	}()
	return w
}

// enqueue must be called with the log's sinkMu read lock held so close
// cannot race with the send.
func (w *sinkWriter) enqueue(r sinkRecord) bool {
	select {
	case w.queue <- r:
		return true
	default:
		return false
	}
}

// close drains the queue and waits for the writer goroutine to exit.
func (w *sinkWriter) close() {
	close(w.queue)
	<-w.done
}

func (l *Log) record(e Event) {
	l.buffer.Add(e)
	l.total.Add(1)
	l.broadcaster.broadcast(e)
}

// Snapshot returns the buffered events, oldest first.
func (l *Log) Snapshot() []Event {
	return l.buffer.Snapshot()
}

// Recent returns the last n buffered events. n <= 0 returns all of them.
func (l *Log) Recent(n int) []Event {
	all := l.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Count returns how many buffered events are named name.
func (l *Log) Count(name string) int {
	n := 0
	for _, e := range l.buffer.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// TotalCount returns how many events were recorded since the log was
// created, including ones that fell out of the buffer.
func (l *Log) TotalCount() uint64 {
	return l.total.Load()
}

// Clear empties the buffer.
func (l *Log) Clear() {
	l.buffer.Clear()
}
