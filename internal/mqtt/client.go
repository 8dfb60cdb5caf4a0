package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	DefaultURL     = "tcp://localhost:1883"
	defaultTimeout = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	URL      string
	ClientID string
	Username string
	Password string
	// OnConnect runs after every successful connection, including
	// reconnects.
	OnConnect func()
	Logger    *zap.Logger
}

// Client wraps the Paho MQTT client for the tree engine.
type Client struct {
	client paho.Client
	url    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(o Options) *Client {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	c := &Client{url: o.URL, logger: o.Logger}

	opts := paho.NewClientOptions().
		AddBroker(o.URL).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("mqtt connection lost", zap.String("url", c.url), zap.Error(err))
		}).
		SetOnConnectHandler(func(paho.Client) {
			c.logger.Info("mqtt connected", zap.String("url", c.url))
			if o.OnConnect != nil {
				o.OnConnect()
			}
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(defaultTimeout) {
		return &ConnectTimeoutError{URL: c.url}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.url, err)
	}
	return nil
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(defaultTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Unsubscribe removes the broker subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultTimeout) {
		return &TimeoutError{Op: "unsubscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload on topic with QoS 1.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(defaultTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	URL string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.URL
}

// TimeoutError indicates a subscribe, unsubscribe or publish timed out.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}

// Start connects, logging the error instead of failing. Paho keeps retrying
// in the background. Returns true if connected.
func (c *Client) Start() bool {
	if err := c.Connect(); err != nil {
		c.logger.Warn("mqtt unavailable, retrying in background", zap.String("url", c.url), zap.Error(err))
		return false
	}
	return true
}
