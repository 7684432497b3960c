package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Manager.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DefaultCommandTimeout applies when Send is called with a zero timeout
// and no other default has been configured.
const DefaultCommandTimeout = 5 * time.Second

// Manager owns the device records, the live transport table, the pending
// command table, and the event hub.
//
// Records and transports have independent lifecycles: registering creates
// or revives a record, disconnecting marks it offline but keeps it, and
// only Remove deletes it.
//
// All public methods are thread-safe.
type Manager struct {
	mu      sync.RWMutex       // Protects records and conns
	records map[string]*Device // Last-known record per device ID
	conns   map[string]Transport

	pendMu  sync.Mutex // Protects pending, never held while blocking
	pending map[string]*pendingCommand

	hub    *Hub
	logger Logger

	defaultTimeout time.Duration
}

// NewManager creates an empty Manager with a running event hub.
func NewManager() *Manager {
	return &Manager{
		records:        make(map[string]*Device),
		conns:          make(map[string]Transport),
		pending:        make(map[string]*pendingCommand),
		hub:            NewHub(nil),
		logger:         noopLogger{},
		defaultTimeout: DefaultCommandTimeout,
	}
}

// SetLogger sets the logger for the manager and its event hub.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
	m.hub.SetLogger(logger)
}

// SetDefaultTimeout overrides the timeout applied when Send is called
// with a zero timeout. Non-positive values are ignored.
func (m *Manager) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		m.defaultTimeout = d
	}
}

// Subscribe registers an observer for lifecycle events.
func (m *Manager) Subscribe(o Observer) *Subscription {
	return m.hub.Subscribe(o)
}

// Unsubscribe removes a previously registered observer.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.hub.Unsubscribe(sub)
}

// Register binds a transport to a device ID, creating or reviving the
// device record. Returns false if the ID fails validation or the transport
// is nil.
//
// If the device already has a live transport, the new one replaces it:
// commands pending on the old transport fail with ErrDeviceDisconnected
// and the old transport is closed.
func (m *Manager) Register(deviceID string, t Transport, info Info) bool {
	if err := ValidateDeviceID(deviceID); err != nil {
		m.logger.Warn("registration rejected", "device_id", deviceID, "error", err)
		return false
	}
	if t == nil {
		m.logger.Warn("registration rejected: nil transport", "device_id", deviceID)
		return false
	}
	if err := validatePayloadSize(info.Config, maxConfigKeys, "config"); err != nil {
		m.logger.Warn("registration rejected", "device_id", deviceID, "error", err)
		return false
	}

	now := time.Now().UTC()

	m.mu.Lock()
	old := m.conns[deviceID]
	m.conns[deviceID] = t

	rec, ok := m.records[deviceID]
	if !ok {
		rec = &Device{ID: deviceID, Config: Config{}}
		m.records[deviceID] = rec
	}
	applyInfo(rec, info)
	rec.Status = StatusOnline
	stampLastSeen(rec, now)
	snapshot := rec.DeepCopy()
	m.mu.Unlock()

	if old != nil && old != t {
		// The previous connection is dead to us even if its socket is
		// technically still open. Anything waiting on it cannot complete.
		m.failPendingForDevice(deviceID, ErrDeviceDisconnected)
		_ = old.Close()
		m.logger.Info("device transport superseded", "device_id", deviceID)
	}

	m.hub.Publish(EventDeviceConnected, ConnectedPayload{Device: *snapshot})
	m.logger.Info("device registered", "device_id", deviceID, "name", snapshot.Name, "ip", snapshot.IP)
	return true
}

// applyInfo merges a registration's self-description into a record.
// Empty fields are skipped; config keys merge last-write-wins.
func applyInfo(rec *Device, info Info) {
	if info.Name != "" {
		rec.Name = info.Name
	}
	if info.Type != "" {
		rec.Type = info.Type
	}
	if info.IP != "" {
		rec.IP = info.IP
	}
	if info.Firmware != "" {
		rec.Firmware = info.Firmware
	}
	if len(info.Config) > 0 {
		if rec.Config == nil {
			rec.Config = make(Config, len(info.Config))
		}
		for k, v := range info.Config {
			rec.Config[k] = deepCopyValue(v)
		}
	}
}

// stampLastSeen advances a record's last-seen time. The value never moves
// backwards even when callers race on wall-clock reads.
func stampLastSeen(rec *Device, now time.Time) {
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
}

// Disconnect detaches a device's transport and marks its record offline.
// The record survives for later inspection. Commands pending for the
// device fail with ErrDeviceDisconnected.
//
// Returns false if the device ID has no record.
func (m *Manager) Disconnect(deviceID string) bool {
	m.mu.Lock()
	rec, ok := m.records[deviceID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	t := m.conns[deviceID]
	delete(m.conns, deviceID)
	rec.Status = StatusOffline
	stampLastSeen(rec, time.Now().UTC())
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.failPendingForDevice(deviceID, ErrDeviceDisconnected)
	m.hub.Publish(EventDeviceDisconnected, DisconnectedPayload{DeviceID: deviceID})
	m.logger.Info("device disconnected", "device_id", deviceID)
	return true
}

// TransportClosed handles a connection closing underneath a device, as
// reported by the listener that owned it. If the device has since
// reconnected on a newer transport the close is ignored.
func (m *Manager) TransportClosed(deviceID string, t Transport) {
	m.mu.Lock()
	current, ok := m.conns[deviceID]
	if !ok || current != t {
		m.mu.Unlock()
		return
	}
	delete(m.conns, deviceID)
	if rec := m.records[deviceID]; rec != nil {
		rec.Status = StatusOffline
		stampLastSeen(rec, time.Now().UTC())
	}
	m.mu.Unlock()

	m.failPendingForDevice(deviceID, ErrDeviceDisconnected)
	m.hub.Publish(EventDeviceDisconnected, DisconnectedPayload{DeviceID: deviceID})
	m.logger.Info("device connection lost", "device_id", deviceID)
}

// Owns reports whether t is the live transport for deviceID. The listener
// uses this to reject status and telemetry frames claiming another
// device's identity.
func (m *Manager) Owns(deviceID string, t Transport) bool {
	if t == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[deviceID] == t
}

// Connected reports whether a device currently has a live transport.
func (m *Manager) Connected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[deviceID]
	return ok
}

// Get retrieves a device record by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (m *Manager) Get(deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return rec.DeepCopy(), nil
}

// List retrieves all device records sorted by ID.
// The returned devices are deep copies; callers can safely modify them.
func (m *Manager) List() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]Device, 0, len(m.records))
	for _, rec := range m.records {
		devices = append(devices, *rec.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Count returns the number of device records.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Remove deletes a device record entirely. Any live connection is closed
// and its pending commands fail with ErrDeviceDisconnected.
// Returns ErrDeviceNotFound if the device does not exist.
func (m *Manager) Remove(deviceID string) error {
	m.mu.Lock()
	if _, ok := m.records[deviceID]; !ok {
		m.mu.Unlock()
		return ErrDeviceNotFound
	}
	delete(m.records, deviceID)
	t, hadConn := m.conns[deviceID]
	delete(m.conns, deviceID)
	m.mu.Unlock()

	if hadConn {
		_ = t.Close()
		m.failPendingForDevice(deviceID, ErrDeviceDisconnected)
		m.hub.Publish(EventDeviceDisconnected, DisconnectedPayload{DeviceID: deviceID})
	}
	m.logger.Info("device removed", "device_id", deviceID)
	return nil
}

// IngestStatus applies a status report from a device's own connection.
// An empty status defaults to online. Returns false if the device has no
// record or the payload fails validation.
func (m *Manager) IngestStatus(deviceID string, status Status, data map[string]any) bool {
	if status == "" {
		status = StatusOnline
	}
	if err := validatePayloadSize(data, maxStatusKeys, "status data"); err != nil {
		m.logger.Warn("status report rejected", "device_id", deviceID, "error", err)
		return false
	}

	m.mu.Lock()
	rec, ok := m.records[deviceID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	rec.Status = status
	if data != nil {
		rec.StatusData = deepCopyMap(data)
	}
	stampLastSeen(rec, time.Now().UTC())
	m.mu.Unlock()

	m.logger.Debug("status updated", "device_id", deviceID, "status", status)
	return true
}

// IngestTelemetry records a telemetry report and publishes
// EventTelemetryReceived. Returns false if the payload is nil, fails
// validation, or the device has no record.
func (m *Manager) IngestTelemetry(deviceID string, data map[string]any) bool {
	if data == nil {
		return false
	}
	if err := validatePayloadSize(data, maxTelemetryKeys, "telemetry data"); err != nil {
		m.logger.Warn("telemetry rejected", "device_id", deviceID, "error", err)
		return false
	}

	m.mu.Lock()
	rec, ok := m.records[deviceID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	rec.LastTelemetry = deepCopyMap(data)
	stampLastSeen(rec, time.Now().UTC())
	m.mu.Unlock()

	m.hub.Publish(EventTelemetryReceived, TelemetryPayload{
		DeviceID: deviceID,
		Data:     deepCopyMap(data),
	})
	m.logger.Debug("telemetry received", "device_id", deviceID, "keys", len(data))
	return true
}

// Close shuts the manager down: every live transport is closed, all
// pending commands fail, and the event hub drains and stops.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Transport)
	for _, rec := range m.records {
		rec.Status = StatusOffline
	}
	m.mu.Unlock()

	for _, t := range conns {
		_ = t.Close()
	}
	m.failAllPending(ErrDeviceDisconnected)
	m.hub.Close()
}
