package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/config"
)

// Logger is the slice of the logging surface this package needs.
// *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives inbound messages. Paho invokes handlers on its
// own goroutines, so a handler that must block should hand the work off
// and return. A returned error is logged, not redelivered.
type MessageHandler func(topic string, payload []byte) error

// binding is a tracked subscription, kept so it can be replayed after a
// reconnect.
type binding struct {
	qos     byte
	handler MessageHandler
}

// Client is the broker link for the event relay and the inbound command
// channel.
//
// A single mutex guards all mutable state; paho delivers its callbacks
// on broker goroutines, so every field they touch stays behind it.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	mu           sync.Mutex
	connected    bool
	bindings     map[string]binding
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker and returns a ready client.
//
// The connection carries a retained Last Will on the system status topic
// so consumers can tell a crash from a graceful shutdown, reconnects on
// its own with backoff, and replays tracked subscriptions after every
// reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		bindings: make(map[string]binding),
	}

	opts := buildClientOptions(cfg)
	configureWill(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerDown(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no broker response within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect callback runs asynchronously and may not have fired
	// yet; mark the link up here so IsConnected holds the moment Connect
	// returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// brokerUp runs on every successful connect and reconnect.
func (c *Client) brokerUp() {
	c.mu.Lock()
	c.connected = true
	replay := make(map[string]binding, len(c.bindings))
	for topic, b := range c.bindings {
		replay[topic] = b
	}
	notify := c.onConnect
	c.mu.Unlock()

	// Best effort: a replay that fails here is retried on the next
	// reconnect.
	for topic, b := range replay {
		c.paho.Subscribe(topic, b.qos, c.wrapHandler(b.handler))
	}

	c.announce(onlinePayload(c.cfg.Broker.ClientID))

	if notify != nil {
		notify()
	}
}

// brokerDown runs when the broker link drops.
func (c *Client) brokerDown(err error) {
	c.mu.Lock()
	c.connected = false
	notify := c.onDisconnect
	c.mu.Unlock()

	if notify != nil {
		notify(err)
	}
}

// announce publishes a retained status message on the system topic.
func (c *Client) announce(payload string) {
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful shutdown and disconnects. Safe to call on a
// client whose link already dropped, and on the zero value.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			offlinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(operationTimeout)
	}

	c.paho.Disconnect(disconnectQuiesceMS)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports whether the broker link is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.paho.IsConnected()
}

// SetOnConnect registers a callback invoked on every connect and
// reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the link drops. The
// error describes why.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger routes handler errors and panics somewhere visible. Without
// one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho's signature, containing
// panics so a bad handler cannot take down the broker goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
