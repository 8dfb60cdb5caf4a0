package events

import (
	"errors"
	"sync"
)

// ErrEmptyChannel is returned for operations on an empty channel name.
var ErrEmptyChannel = errors.New("events: empty channel name")

type handler struct {
	id uint64
	fn func(payload any)
}

// Bus is an in-process publish/subscribe hub. Handlers run synchronously on
// the publishing goroutine, outside the bus lock.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]handler)}
}

// Publish delivers payload to every handler subscribed to channel.
func (b *Bus) Publish(channel string, payload any) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	b.mu.RLock()
	hs := append([]handler(nil), b.handlers[channel]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h.fn(payload)
	}
	return nil
}

// Subscribe registers fn for channel and returns a function that removes it.
func (b *Bus) Subscribe(channel string, fn func(payload any)) (func(), error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[channel] = append(b.handlers[channel], handler{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[channel]
			for i, h := range hs {
				if h.id == id {
					b.handlers[channel] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(b.handlers[channel]) == 0 {
				delete(b.handlers, channel)
			}
		})
	}, nil
}

// Handlers returns the number of handlers subscribed to channel.
func (b *Bus) Handlers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[channel])
}
