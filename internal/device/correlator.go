package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// pendingCommand is a command awaiting its response from the device.
// Exactly one of the response, timeout, disconnect, or cancellation paths
// claims it; the claim happens by removing it from the pending table.
type pendingCommand struct {
	deviceID string
	command  string
	done     chan commandResult // Buffered, capacity 1
}

type commandResult struct {
	data any
	err  error
}

// newCommandID generates a correlation ID. V7 UUIDs sort by creation time
// which keeps log output readable; on the rare entropy failure a V4 works
// just as well.
func newCommandID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Send delivers a command to a connected device and waits for the
// correlated response.
//
// A zero timeout uses the manager's default. The wait ends on the first
// of: the device's response, the timeout (ErrCommandTimeout), the device
// disconnecting (ErrDeviceDisconnected), or ctx being cancelled.
//
// No manager locks are held while waiting, so slow devices never block
// each other.
func (m *Manager) Send(ctx context.Context, deviceID, command string, params map[string]any, timeout time.Duration) (any, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if command == "" {
		return nil, fmt.Errorf("%w: command must not be empty", ErrInvalidArgument)
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.mu.RLock()
	t, ok := m.conns[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, deviceID)
	}

	commandID := newCommandID()
	pc := &pendingCommand{
		deviceID: deviceID,
		command:  command,
		done:     make(chan commandResult, 1),
	}
	m.pendMu.Lock()
	m.pending[commandID] = pc
	m.pendMu.Unlock()

	// A disconnect can land between the transport lookup and the insert
	// above; its pending sweep would miss this command. Re-check ownership
	// now the entry is visible so the command fails fast instead of riding
	// out the timeout.
	m.mu.RLock()
	current := m.conns[deviceID]
	m.mu.RUnlock()
	if current != t {
		if m.takePending(commandID) != nil {
			return nil, fmt.Errorf("%w: %s", ErrDeviceDisconnected, deviceID)
		}
		res := <-pc.done
		return res.data, res.err
	}

	msg := CommandMessage{
		Type:      MsgTypeCommand,
		CommandID: commandID,
		Command:   command,
		Params:    params,
	}
	if err := t.Send(msg); err != nil {
		m.takePending(commandID)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotConnected, deviceID, err)
	}

	m.hub.Publish(EventCommandSent, CommandSentPayload{
		DeviceID:  deviceID,
		CommandID: commandID,
		Command:   command,
		Params:    params,
	})
	m.logger.Debug("command sent", "device_id", deviceID, "command", command, "command_id", commandID)

	timer := time.AfterFunc(timeout, func() {
		if m.takePending(commandID) == nil {
			return
		}
		pc.done <- commandResult{err: fmt.Errorf("%w: no response within %v", ErrCommandTimeout, timeout)}
	})
	defer timer.Stop()

	select {
	case res := <-pc.done:
		return res.data, res.err
	case <-ctx.Done():
		if m.takePending(commandID) != nil {
			return nil, ctx.Err()
		}
		// A resolver already claimed the command; its result is in flight.
		res := <-pc.done
		return res.data, res.err
	}
}

// IngestCommandResponse resolves a pending command with the device's
// response. Responses whose correlation ID matches nothing, including
// late responses to already timed-out commands, are discarded.
func (m *Manager) IngestCommandResponse(commandID string, data any) {
	pc := m.takePending(commandID)
	if pc == nil {
		m.logger.Debug("discarding unmatched command response", "command_id", commandID)
		return
	}
	pc.done <- commandResult{data: data}
}

// takePending removes and returns a pending command, or nil if another
// resolver got there first.
func (m *Manager) takePending(commandID string) *pendingCommand {
	m.pendMu.Lock()
	defer m.pendMu.Unlock()
	pc, ok := m.pending[commandID]
	if !ok {
		return nil
	}
	delete(m.pending, commandID)
	return pc
}

// failPendingForDevice resolves every pending command for one device
// with cause.
func (m *Manager) failPendingForDevice(deviceID string, cause error) {
	m.pendMu.Lock()
	var claimed []*pendingCommand
	for id, pc := range m.pending {
		if pc.deviceID == deviceID {
			delete(m.pending, id)
			claimed = append(claimed, pc)
		}
	}
	m.pendMu.Unlock()

	for _, pc := range claimed {
		pc.done <- commandResult{err: fmt.Errorf("%w: %s", cause, deviceID)}
	}
}

// failAllPending resolves every pending command with cause.
func (m *Manager) failAllPending(cause error) {
	m.pendMu.Lock()
	claimed := make([]*pendingCommand, 0, len(m.pending))
	for id, pc := range m.pending {
		delete(m.pending, id)
		claimed = append(claimed, pc)
	}
	m.pendMu.Unlock()

	for _, pc := range claimed {
		pc.done <- commandResult{err: fmt.Errorf("%w: %s", cause, pc.deviceID)}
	}
}

// UpdateConfig sends a config command carrying cfg to the device, waits
// for it to acknowledge, then merges cfg into the stored record. The
// returned Config is the merged stored view.
//
// The stored record only changes after the device confirms, so a failed
// push never desynchronises the record from the hardware.
func (m *Manager) UpdateConfig(ctx context.Context, deviceID string, cfg Config) (Config, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("%w: config must not be empty", ErrInvalidArgument)
	}
	if err := validatePayloadSize(cfg, maxConfigKeys, "config"); err != nil {
		return nil, err
	}

	reply, err := m.Send(ctx, deviceID, "config", map[string]any(cfg), 0)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if rec, ok := m.records[deviceID]; ok {
		if rec.Config == nil {
			rec.Config = make(Config, len(cfg))
		}
		for k, v := range cfg {
			rec.Config[k] = deepCopyValue(v)
		}
		merged := Config(deepCopyMap(rec.Config))
		m.mu.Unlock()
		m.logger.Info("device config updated", "device_id", deviceID, "keys", len(cfg))
		return merged, nil
	}
	m.mu.Unlock()

	// The record was removed while the command was in flight. The device
	// still applied the change, so report what we know.
	if rm, ok := reply.(map[string]any); ok {
		return Config(deepCopyMap(rm)), nil
	}
	return Config(deepCopyMap(cfg)), nil
}
