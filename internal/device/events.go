package device

import (
	"sort"
	"sync"
	"time"
)

// EventKind identifies a lifecycle event.
type EventKind string

// Event kinds published by the Manager.
const (
	EventDeviceConnected    EventKind = "deviceConnected"
	EventDeviceDisconnected EventKind = "deviceDisconnected"
	EventCommandSent        EventKind = "commandSent"
	EventTelemetryReceived  EventKind = "telemetryReceived"
)

// Event is a lifecycle notification delivered to observers.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ConnectedPayload accompanies EventDeviceConnected.
type ConnectedPayload struct {
	Device Device `json:"device"`
}

// DisconnectedPayload accompanies EventDeviceDisconnected.
type DisconnectedPayload struct {
	DeviceID string `json:"deviceId"`
}

// CommandSentPayload accompanies EventCommandSent.
type CommandSentPayload struct {
	DeviceID  string         `json:"deviceId"`
	CommandID string         `json:"commandId"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
}

// TelemetryPayload accompanies EventTelemetryReceived.
type TelemetryPayload struct {
	DeviceID string         `json:"deviceId"`
	Data     map[string]any `json:"data"`
}

// Observer receives lifecycle events. A returned error is logged and does
// not stop delivery to other observers.
type Observer interface {
	OnEvent(evt Event) error
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event) error

// OnEvent calls f(evt).
func (f ObserverFunc) OnEvent(evt Event) error { return f(evt) }

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id uint64
}

// eventQueueSize bounds the number of events buffered ahead of the
// delivery worker. Publishing never blocks; events past the bound are
// dropped with a warning.
const eventQueueSize = 256

// Hub fans lifecycle events out to observers.
//
// Delivery runs on a single worker goroutine, so observers see events in
// publish order. A slow observer delays later events rather than
// reordering them. Observer panics are recovered and logged.
type Hub struct {
	logger Logger

	mu        sync.Mutex
	nextID    uint64
	observers map[uint64]Observer

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a Hub and starts its delivery worker.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	h := &Hub{
		logger:    logger,
		observers: make(map[uint64]Observer),
		queue:     make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe registers an observer for all subsequent events.
func (h *Hub) Subscribe(o Observer) *Subscription {
	if o == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.observers[h.nextID] = o
	return &Subscription{id: h.nextID}
}

// SetLogger sets the logger used for delivery failures.
func (h *Hub) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// getLogger returns the current logger.
func (h *Hub) getLogger() Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logger
}

// Unsubscribe removes an observer. Events already queued may still reach
// it; nothing published after Unsubscribe returns will.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	delete(h.observers, sub.id)
	h.mu.Unlock()
}

// Publish enqueues an event for delivery. It never blocks the caller; if
// the queue is full the event is dropped and a warning logged.
func (h *Hub) Publish(kind EventKind, payload any) {
	evt := Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	select {
	case <-h.done:
	case h.queue <- evt:
	default:
		h.getLogger().Warn("event queue full, dropping event", "kind", kind)
	}
}

// Close stops the delivery worker after draining already-queued events.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// run is the delivery worker.
func (h *Hub) run() {
	for {
		select {
		case evt := <-h.queue:
			h.dispatch(evt)
		case <-h.done:
			for {
				select {
				case evt := <-h.queue:
					h.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

// dispatch delivers one event to every observer in subscription order.
func (h *Hub) dispatch(evt Event) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	obs := make([]Observer, len(ids))
	for i, id := range ids {
		obs[i] = h.observers[id]
	}
	h.mu.Unlock()

	for _, o := range obs {
		h.deliver(o, evt)
	}
}

// deliver invokes one observer with panic recovery.
func (h *Hub) deliver(o Observer, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.getLogger().Error("event observer panic recovered", "kind", evt.Kind, "panic", r)
		}
	}()

	if err := o.OnEvent(evt); err != nil {
		h.getLogger().Warn("event observer returned error", "kind", evt.Kind, "error", err)
	}
}
