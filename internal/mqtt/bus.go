package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrEmptyChannel is returned for an empty channel name.
var ErrEmptyChannel = errors.New("mqtt: empty channel")

// Transport is the part of Client the bus needs.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Bus carries tree events over MQTT. A channel maps to the topic
// prefix+channel; payloads travel as JSON. The broker subscription for a
// channel is held while at least one handler is registered.
//
// Handlers run on paho goroutines.
type Bus struct {
	transport Transport
	prefix    string
	logger    *zap.Logger

	// subMu serializes broker subscription changes; mu guards handlers and
	// is never held across a broker round trip.
	subMu    sync.Mutex
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]func(payload any)
}

// NewBus returns a bus publishing below prefix, e.g. "sentient/trees/".
func NewBus(t Transport, prefix string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		transport: t,
		prefix:    prefix,
		logger:    logger,
		handlers:  make(map[string]map[uint64]func(payload any)),
	}
}

// Topic returns the MQTT topic for channel.
func (b *Bus) Topic(channel string) string {
	return b.prefix + channel
}

// Publish encodes payload as JSON and publishes it on the channel topic.
func (b *Bus) Publish(channel string, payload any) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	return b.transport.Publish(b.Topic(channel), data)
}

// Subscribe registers fn for channel and returns a function that removes it.
func (b *Bus) Subscribe(channel string, fn func(payload any)) (func(), error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	_, ok := b.handlers[channel]
	b.mu.Unlock()
	if !ok {
		if err := b.transport.Subscribe(b.Topic(channel), b.handler(channel)); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	b.mu.Lock()
	hs, ok := b.handlers[channel]
	if !ok {
		hs = make(map[uint64]func(payload any))
		b.handlers[channel] = hs
	}
	b.nextID++
	id := b.nextID
	hs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(channel, id) })
	}, nil
}

func (b *Bus) remove(channel string, id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	hs := b.handlers[channel]
	delete(hs, id)
	empty := len(hs) == 0
	if empty {
		delete(b.handlers, channel)
	}
	b.mu.Unlock()

	if !empty {
		return
	}
	if err := b.transport.Unsubscribe(b.Topic(channel)); err != nil {
		b.logger.Warn("mqtt unsubscribe failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Resubscribe restores the broker subscription of every channel with
// handlers. Use it as the client's OnConnect callback.
func (b *Bus) Resubscribe() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	channels := make([]string, 0, len(b.handlers))
	for channel := range b.handlers {
		channels = append(channels, channel)
	}
	b.mu.Unlock()

	for _, channel := range channels {
		if err := b.transport.Subscribe(b.Topic(channel), b.handler(channel)); err != nil {
			b.logger.Warn("mqtt resubscribe failed", zap.String("channel", channel), zap.Error(err))
		}
	}
}

// Channels returns how many channels hold a broker subscription.
func (b *Bus) Channels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *Bus) handler(channel string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var payload any
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			// Not JSON: deliver the raw string.
			payload = string(msg.Payload())
		}

		b.mu.Lock()
		fns := make([]func(any), 0, len(b.handlers[channel]))
		for _, fn := range b.handlers[channel] {
			fns = append(fns, fn)
		}
		b.mu.Unlock()

		for _, fn := range fns {
			fn(payload)
		}
	}
}
