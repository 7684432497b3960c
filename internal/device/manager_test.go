package device

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport records sent messages and close calls.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []CommandMessage
	failSend bool
	closed   bool
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("write failed")
	}
	if msg, ok := v.(CommandMessage); ok {
		f.sent = append(f.sent, msg)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentMessages() []CommandMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CommandMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	t.Cleanup(m.Close)
	return m
}

func TestRegister(t *testing.T) {
	t.Run("creates record and marks online", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}

		ok := m.Register("esp-001", ft, Info{Name: "Living Room", Type: "sensor", IP: "10.0.0.5", Firmware: "1.2.0"})
		if !ok {
			t.Fatal("Register returned false")
		}

		dev, err := m.Get("esp-001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if dev.Name != "Living Room" {
			t.Errorf("Name = %q, want %q", dev.Name, "Living Room")
		}
		if dev.Status != StatusOnline {
			t.Errorf("Status = %q, want %q", dev.Status, StatusOnline)
		}
		if dev.LastSeen.IsZero() {
			t.Error("LastSeen not stamped")
		}
		if !m.Connected("esp-001") {
			t.Error("Connected = false, want true")
		}
	})

	t.Run("rejects invalid device IDs", func(t *testing.T) {
		m := newTestManager(t)
		for _, id := range []string{"", ".leading-dot", "has space", "x/y"} {
			if m.Register(id, &fakeTransport{}, Info{}) {
				t.Errorf("Register(%q) = true, want false", id)
			}
		}
		if m.Count() != 0 {
			t.Errorf("Count = %d, want 0", m.Count())
		}
	})

	t.Run("rejects nil transport", func(t *testing.T) {
		m := newTestManager(t)
		if m.Register("esp-001", nil, Info{}) {
			t.Error("Register with nil transport = true, want false")
		}
	})

	t.Run("empty info fields leave record untouched", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{Name: "Original", Firmware: "1.0.0"})
		m.Register("esp-001", &fakeTransport{}, Info{Firmware: "1.1.0"})

		dev, err := m.Get("esp-001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if dev.Name != "Original" {
			t.Errorf("Name = %q, want %q", dev.Name, "Original")
		}
		if dev.Firmware != "1.1.0" {
			t.Errorf("Firmware = %q, want %q", dev.Firmware, "1.1.0")
		}
	})

	t.Run("supersede closes old transport", func(t *testing.T) {
		m := newTestManager(t)
		oldT := &fakeTransport{}
		newT := &fakeTransport{}

		m.Register("esp-001", oldT, Info{})
		m.Register("esp-001", newT, Info{})

		if !oldT.isClosed() {
			t.Error("old transport not closed")
		}
		if newT.isClosed() {
			t.Error("new transport closed")
		}
		if !m.Owns("esp-001", newT) {
			t.Error("Owns(newT) = false, want true")
		}
		if m.Owns("esp-001", oldT) {
			t.Error("Owns(oldT) = true, want false")
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("marks offline and keeps record", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}
		m.Register("esp-001", ft, Info{Name: "Bench"})

		if !m.Disconnect("esp-001") {
			t.Fatal("Disconnect returned false")
		}
		if !ft.isClosed() {
			t.Error("transport not closed")
		}
		if m.Connected("esp-001") {
			t.Error("Connected = true, want false")
		}

		dev, err := m.Get("esp-001")
		if err != nil {
			t.Fatalf("record gone after disconnect: %v", err)
		}
		if dev.Status != StatusOffline {
			t.Errorf("Status = %q, want %q", dev.Status, StatusOffline)
		}
		if dev.Name != "Bench" {
			t.Errorf("Name = %q, want %q", dev.Name, "Bench")
		}
	})

	t.Run("unknown device returns false", func(t *testing.T) {
		m := newTestManager(t)
		if m.Disconnect("ghost") {
			t.Error("Disconnect(ghost) = true, want false")
		}
	})
}

func TestTransportClosed(t *testing.T) {
	t.Run("marks device offline", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}
		m.Register("esp-001", ft, Info{})

		m.TransportClosed("esp-001", ft)

		if m.Connected("esp-001") {
			t.Error("Connected = true, want false")
		}
		dev, _ := m.Get("esp-001")
		if dev.Status != StatusOffline {
			t.Errorf("Status = %q, want %q", dev.Status, StatusOffline)
		}
	})

	t.Run("ignored when the device reconnected", func(t *testing.T) {
		m := newTestManager(t)
		oldT := &fakeTransport{}
		newT := &fakeTransport{}
		m.Register("esp-001", oldT, Info{})
		m.Register("esp-001", newT, Info{})

		m.TransportClosed("esp-001", oldT)

		if !m.Connected("esp-001") {
			t.Error("stale close disconnected the new transport")
		}
		dev, _ := m.Get("esp-001")
		if dev.Status != StatusOnline {
			t.Errorf("Status = %q, want %q", dev.Status, StatusOnline)
		}
	})
}

func TestGetAndList(t *testing.T) {
	m := newTestManager(t)
	m.Register("esp-002", &fakeTransport{}, Info{})
	m.Register("esp-001", &fakeTransport{}, Info{})
	m.Register("esp-003", &fakeTransport{}, Info{})

	t.Run("unknown device", func(t *testing.T) {
		if _, err := m.Get("ghost"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Get(ghost) error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("list sorted by ID", func(t *testing.T) {
		devices := m.List()
		if len(devices) != 3 {
			t.Fatalf("List returned %d devices, want 3", len(devices))
		}
		want := []string{"esp-001", "esp-002", "esp-003"}
		for i, id := range want {
			if devices[i].ID != id {
				t.Errorf("devices[%d].ID = %q, want %q", i, devices[i].ID, id)
			}
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		dev, _ := m.Get("esp-001")
		dev.Name = "mutated"
		again, _ := m.Get("esp-001")
		if again.Name == "mutated" {
			t.Error("mutation of returned device leaked into the store")
		}
	})
}

func TestRemove(t *testing.T) {
	t.Run("deletes record and closes transport", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}
		m.Register("esp-001", ft, Info{})

		if err := m.Remove("esp-001"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if !ft.isClosed() {
			t.Error("transport not closed")
		}
		if _, err := m.Get("esp-001"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Get after Remove error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		m := newTestManager(t)
		if err := m.Remove("ghost"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Remove(ghost) error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestIngestStatus(t *testing.T) {
	t.Run("updates status and data", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})

		ok := m.IngestStatus("esp-001", StatusOnline, map[string]any{"freeHeap": 24576.0, "rssi": -61.0})
		if !ok {
			t.Fatal("IngestStatus returned false")
		}

		dev, _ := m.Get("esp-001")
		if dev.StatusData["rssi"] != -61.0 {
			t.Errorf("StatusData[rssi] = %v, want -61", dev.StatusData["rssi"])
		}
	})

	t.Run("empty status defaults to online", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})
		m.IngestStatus("esp-001", "", nil)

		dev, _ := m.Get("esp-001")
		if dev.Status != StatusOnline {
			t.Errorf("Status = %q, want %q", dev.Status, StatusOnline)
		}
	})

	t.Run("unknown device returns false", func(t *testing.T) {
		m := newTestManager(t)
		if m.IngestStatus("ghost", StatusOnline, nil) {
			t.Error("IngestStatus(ghost) = true, want false")
		}
	})

	t.Run("oversized payload rejected", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})
		big := make(map[string]any)
		for i := 0; i < maxStatusKeys+1; i++ {
			big[string(rune('a'+i%26))+string(rune('0'+i/26))] = i
		}
		if m.IngestStatus("esp-001", StatusOnline, big) {
			t.Error("oversized status accepted")
		}
	})
}

func TestIngestTelemetry(t *testing.T) {
	t.Run("stores last telemetry", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})

		ok := m.IngestTelemetry("esp-001", map[string]any{"temperature": 21.4})
		if !ok {
			t.Fatal("IngestTelemetry returned false")
		}
		dev, _ := m.Get("esp-001")
		if dev.LastTelemetry["temperature"] != 21.4 {
			t.Errorf("LastTelemetry[temperature] = %v, want 21.4", dev.LastTelemetry["temperature"])
		}
	})

	t.Run("nil payload returns false", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})
		if m.IngestTelemetry("esp-001", nil) {
			t.Error("IngestTelemetry(nil) = true, want false")
		}
	})

	t.Run("unknown device returns false", func(t *testing.T) {
		m := newTestManager(t)
		if m.IngestTelemetry("ghost", map[string]any{"x": 1}) {
			t.Error("IngestTelemetry(ghost) = true, want false")
		}
	})
}

func TestStampLastSeenMonotonic(t *testing.T) {
	rec := &Device{LastSeen: time.Now().UTC()}
	earlier := rec.LastSeen.Add(-time.Minute)
	stampLastSeen(rec, earlier)
	if rec.LastSeen.Equal(earlier) {
		t.Error("LastSeen moved backwards")
	}
	later := rec.LastSeen.Add(time.Minute)
	stampLastSeen(rec, later)
	if !rec.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", rec.LastSeen, later)
	}
}

func TestValidateDeviceID(t *testing.T) {
	valid := []string{"esp-001", "a", "ESP8266.kitchen", "node_42"}
	for _, id := range valid {
		if err := ValidateDeviceID(id); err != nil {
			t.Errorf("ValidateDeviceID(%q) = %v, want nil", id, err)
		}
	}

	long := make([]byte, maxDeviceIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	invalid := []string{"", "-leading", ".leading", "has space", "semi;colon", string(long)}
	for _, id := range invalid {
		if err := ValidateDeviceID(id); err == nil {
			t.Errorf("ValidateDeviceID(%q) = nil, want error", id)
		}
	}
}
