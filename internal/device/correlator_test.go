package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// respondingTransport answers every command through the manager, as a
// live device would.
type respondingTransport struct {
	fakeTransport
	m     *Manager
	reply func(msg CommandMessage) any
}

func (rt *respondingTransport) Send(v any) error {
	if err := rt.fakeTransport.Send(v); err != nil {
		return err
	}
	msg, ok := v.(CommandMessage)
	if !ok {
		return nil
	}
	go rt.m.IngestCommandResponse(msg.CommandID, rt.reply(msg))
	return nil
}

func TestSend(t *testing.T) {
	t.Run("resolves with the device response", func(t *testing.T) {
		m := newTestManager(t)
		rt := &respondingTransport{m: m, reply: func(msg CommandMessage) any {
			return map[string]any{"echo": msg.Command}
		}}
		m.Register("esp-001", rt, Info{})

		got, err := m.Send(context.Background(), "esp-001", "restart", nil, time.Second)
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		reply, ok := got.(map[string]any)
		if !ok || reply["echo"] != "restart" {
			t.Errorf("Send returned %v, want echo of restart", got)
		}

		sent := rt.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("device received %d messages, want 1", len(sent))
		}
		if sent[0].Type != MsgTypeCommand {
			t.Errorf("message type = %q, want %q", sent[0].Type, MsgTypeCommand)
		}
		if sent[0].CommandID == "" {
			t.Error("message has no correlation ID")
		}
	})

	t.Run("times out when the device stays silent", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})

		start := time.Now()
		_, err := m.Send(context.Background(), "esp-001", "restart", nil, 50*time.Millisecond)
		if !errors.Is(err, ErrCommandTimeout) {
			t.Fatalf("Send error = %v, want ErrCommandTimeout", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("timeout took %v, want ~50ms", elapsed)
		}
	})

	t.Run("late response after timeout is discarded", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}
		m.Register("esp-001", ft, Info{})

		_, err := m.Send(context.Background(), "esp-001", "restart", nil, 20*time.Millisecond)
		if !errors.Is(err, ErrCommandTimeout) {
			t.Fatalf("Send error = %v, want ErrCommandTimeout", err)
		}

		sent := ft.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("device received %d messages, want 1", len(sent))
		}
		// Must not panic or resolve anything.
		m.IngestCommandResponse(sent[0].CommandID, map[string]any{"late": true})
		m.IngestCommandResponse(sent[0].CommandID, map[string]any{"later": true})
	})

	t.Run("not connected", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.Send(context.Background(), "esp-001", "restart", nil, time.Second)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Send error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("offline after disconnect", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})
		m.Disconnect("esp-001")

		_, err := m.Send(context.Background(), "esp-001", "restart", nil, time.Second)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Send error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})

		if _, err := m.Send(context.Background(), "esp-001", "", nil, time.Second); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("empty command error = %v, want ErrInvalidArgument", err)
		}
		if _, err := m.Send(context.Background(), "bad id", "restart", nil, time.Second); err == nil {
			t.Error("invalid device ID accepted")
		}
	})

	t.Run("transport write failure", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{failSend: true}, Info{})

		_, err := m.Send(context.Background(), "esp-001", "restart", nil, time.Second)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Send error = %v, want ErrNotConnected", err)
		}
		m.pendMu.Lock()
		n := len(m.pending)
		m.pendMu.Unlock()
		if n != 0 {
			t.Errorf("pending table has %d entries after failed send, want 0", n)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-001", &fakeTransport{}, Info{})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := m.Send(ctx, "esp-001", "restart", nil, 5*time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Send error = %v, want context.Canceled", err)
		}
	})

	t.Run("disconnect fails every pending command", func(t *testing.T) {
		m := newTestManager(t)
		ft := &fakeTransport{}
		m.Register("esp-001", ft, Info{})

		const n = 5
		errs := make(chan error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Send(context.Background(), "esp-001", "restart", nil, 5*time.Second)
				errs <- err
			}()
		}

		// Wait for all commands to reach the device before disconnecting.
		deadline := time.After(2 * time.Second)
		for len(ft.sentMessages()) < n {
			select {
			case <-deadline:
				t.Fatalf("only %d of %d commands sent", len(ft.sentMessages()), n)
			case <-time.After(5 * time.Millisecond):
			}
		}
		m.Disconnect("esp-001")
		wg.Wait()
		close(errs)

		for err := range errs {
			if !errors.Is(err, ErrDeviceDisconnected) {
				t.Errorf("pending command error = %v, want ErrDeviceDisconnected", err)
			}
		}
	})

	t.Run("disconnect arriving mid-send fails fast", func(t *testing.T) {
		// The fake transport accepts writes even after the handle is
		// dropped, so a disconnect landing anywhere inside Send must be
		// caught by the correlator itself rather than ride out the
		// timeout.
		for i := 0; i < 25; i++ {
			m := newTestManager(t)
			m.Register("esp-001", &fakeTransport{}, Info{})

			errCh := make(chan error, 1)
			go func() {
				_, err := m.Send(context.Background(), "esp-001", "restart", nil, 5*time.Second)
				errCh <- err
			}()
			m.Disconnect("esp-001")

			select {
			case err := <-errCh:
				if !errors.Is(err, ErrDeviceDisconnected) && !errors.Is(err, ErrNotConnected) {
					t.Fatalf("Send error = %v, want ErrDeviceDisconnected or ErrNotConnected", err)
				}
			case <-time.After(time.Second):
				t.Fatal("Send still waiting after disconnect")
			}
		}
	})

	t.Run("reconnect fails commands pending on the old transport", func(t *testing.T) {
		m := newTestManager(t)
		oldT := &fakeTransport{}
		m.Register("esp-001", oldT, Info{})

		errCh := make(chan error, 1)
		go func() {
			_, err := m.Send(context.Background(), "esp-001", "restart", nil, 5*time.Second)
			errCh <- err
		}()

		deadline := time.After(2 * time.Second)
		for len(oldT.sentMessages()) < 1 {
			select {
			case <-deadline:
				t.Fatal("command never reached the device")
			case <-time.After(5 * time.Millisecond):
			}
		}

		m.Register("esp-001", &fakeTransport{}, Info{})
		if err := <-errCh; !errors.Is(err, ErrDeviceDisconnected) {
			t.Errorf("pending command error = %v, want ErrDeviceDisconnected", err)
		}
	})

	t.Run("a slow device does not block others", func(t *testing.T) {
		m := newTestManager(t)
		m.Register("esp-slow", &fakeTransport{}, Info{})
		fast := &respondingTransport{m: m, reply: func(CommandMessage) any { return "ok" }}
		m.Register("esp-fast", fast, Info{})

		slowDone := make(chan struct{})
		go func() {
			m.Send(context.Background(), "esp-slow", "restart", nil, time.Second)
			close(slowDone)
		}()

		got, err := m.Send(context.Background(), "esp-fast", "ping", nil, 500*time.Millisecond)
		if err != nil {
			t.Fatalf("fast device blocked behind slow one: %v", err)
		}
		if got != "ok" {
			t.Errorf("Send returned %v, want ok", got)
		}
		<-slowDone
	})
}

func TestUpdateConfig(t *testing.T) {
	t.Run("merges into the stored record after the device confirms", func(t *testing.T) {
		m := newTestManager(t)
		rt := &respondingTransport{m: m, reply: func(CommandMessage) any { return "applied" }}
		m.Register("esp-001", rt, Info{Config: Config{"reportInterval": 30.0, "debugMode": false}})

		merged, err := m.UpdateConfig(context.Background(), "esp-001", Config{"reportInterval": 60.0})
		if err != nil {
			t.Fatalf("UpdateConfig failed: %v", err)
		}
		if merged["reportInterval"] != 60.0 {
			t.Errorf("merged reportInterval = %v, want 60", merged["reportInterval"])
		}
		if merged["debugMode"] != false {
			t.Errorf("merged debugMode = %v, want false", merged["debugMode"])
		}

		dev, _ := m.Get("esp-001")
		if dev.Config["reportInterval"] != 60.0 {
			t.Errorf("stored reportInterval = %v, want 60", dev.Config["reportInterval"])
		}
	})

	t.Run("record unchanged when the device never confirms", func(t *testing.T) {
		m := newTestManager(t)
		m.SetDefaultTimeout(30 * time.Millisecond)
		m.Register("esp-001", &fakeTransport{}, Info{Config: Config{"reportInterval": 30.0}})

		_, err := m.UpdateConfig(context.Background(), "esp-001", Config{"reportInterval": 60.0})
		if !errors.Is(err, ErrCommandTimeout) {
			t.Fatalf("UpdateConfig error = %v, want ErrCommandTimeout", err)
		}

		dev, _ := m.Get("esp-001")
		if dev.Config["reportInterval"] != 30.0 {
			t.Errorf("stored reportInterval = %v, want 30", dev.Config["reportInterval"])
		}
	})

	t.Run("empty config rejected", func(t *testing.T) {
		m := newTestManager(t)
		if _, err := m.UpdateConfig(context.Background(), "esp-001", Config{}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("UpdateConfig error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("record removed while the command was in flight", func(t *testing.T) {
		m := newTestManager(t)
		rt := &respondingTransport{m: m}
		rt.reply = func(CommandMessage) any { return map[string]any{"reportInterval": 15.0} }
		m.Register("esp-001", rt, Info{})

		// The removal races the response; the caller still gets the
		// applied config either way.
		go m.Remove("esp-001")

		got, err := m.UpdateConfig(context.Background(), "esp-001", Config{"reportInterval": 15.0})
		if err != nil && !errors.Is(err, ErrDeviceDisconnected) {
			t.Fatalf("UpdateConfig error = %v", err)
		}
		if err == nil && got["reportInterval"] != 15.0 {
			t.Errorf("returned reportInterval = %v, want 15", got["reportInterval"])
		}
	})
}

func TestNewCommandID(t *testing.T) {
	a := newCommandID()
	b := newCommandID()
	if a == "" || b == "" {
		t.Fatal("empty command ID")
	}
	if a == b {
		t.Errorf("consecutive IDs collide: %q", a)
	}
}
