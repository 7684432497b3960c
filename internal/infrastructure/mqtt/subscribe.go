package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic and tracks the binding so it is
// replayed after a reconnect. Topics may carry MQTT wildcards, for
// example Topics{}.AllDeviceCommands() to receive commands for every
// device.
//
// Handlers run on paho goroutines; see MessageHandler for the blocking
// contract.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track before subscribing so a reconnect racing the broker ack
	// still replays the binding.
	c.mu.Lock()
	c.bindings[topic] = binding{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.paho.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(operationTimeout) {
		c.dropBinding(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, operationTimeout)
	}
	if err := token.Error(); err != nil {
		c.dropBinding(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe drops the binding for topic. Messages already in flight
// may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.dropBinding(topic)

	token := c.paho.Unsubscribe(topic)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (c *Client) dropBinding(topic string) {
	c.mu.Lock()
	delete(c.bindings, topic)
	c.mu.Unlock()
}

// SubscriptionCount reports how many bindings are tracked.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

// HasSubscription reports whether topic has a tracked binding. Exact
// string match only, no wildcard expansion.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bindings[topic]
	return ok
}
