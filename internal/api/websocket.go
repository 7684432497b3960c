package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amanasmuei/nodemcu-mcp/internal/device"
)

// upgrader configures the WebSocket upgrader for device connections.
// Devices are embedded firmware, not browsers, so origin checks do not apply.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// inboundMessage is the envelope for every frame a device sends.
// Fields are populated depending on the frame type.
type inboundMessage struct {
	Type       string             `json:"type"`
	DeviceID   string             `json:"deviceId"`
	DeviceInfo *deviceInfoPayload `json:"deviceInfo"`
	Status     string             `json:"status"`
	Data       any                `json:"data"`
	CommandID  string             `json:"commandId"`
}

// deviceInfoPayload is the self-description a device sends when registering.
type deviceInfoPayload struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	IP       string         `json:"ip"`
	Firmware string         `json:"firmware"`
	Config   map[string]any `json:"config"`
}

// registerAck is sent in reply to a register frame.
type registerAck struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// configPush is the initial configuration sent to every new connection,
// before the device has even registered. Firmware uses it as a baseline
// until a directed config command arrives.
type configPush struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// deviceConn wraps a WebSocket connection as a device.Transport.
//
// gorilla/websocket permits one concurrent writer, so every data write is
// serialised through writeMu. Control frames (ping, close) have their own
// concurrency guarantee and bypass the mutex.
type deviceConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// Send marshals v as JSON and writes it to the device.
func (dc *deviceConn) Send(v any) error {
	dc.writeMu.Lock()
	defer dc.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	dc.conn.SetWriteDeadline(time.Now().Add(dc.writeTimeout))
	return dc.conn.WriteJSON(v)
}

// Close tears down the connection. Safe to call more than once; the
// manager and the read loop both reach for it.
func (dc *deviceConn) Close() error {
	var err error
	dc.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		//nolint:errcheck // Best-effort close handshake
		dc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = dc.conn.Close()
	})
	return err
}

// handleDeviceSocket upgrades the HTTP connection and runs the device
// read loop until the connection drops.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	dc := &deviceConn{
		conn:         conn,
		writeTimeout: time.Duration(s.wsCfg.PongTimeout) * time.Second,
	}

	s.logger.Info("device connection opened", "remote", r.RemoteAddr)

	// Baseline configuration push, mirroring what devices expect on connect.
	if err := dc.Send(configPush{
		Type: device.MsgTypeConfig,
		Data: map[string]any{
			"reportInterval": 30,
			"debugMode":      false,
		},
	}); err != nil {
		s.logger.Warn("initial config push failed", "error", err)
		dc.Close()
		return
	}

	pingDone := make(chan struct{})
	go s.pingLoop(dc, pingDone)

	deviceID := s.readLoop(dc, r.RemoteAddr)

	close(pingDone)
	dc.Close()

	if deviceID != "" {
		s.manager.TransportClosed(deviceID, dc)
	} else {
		s.logger.Info("unregistered device connection closed", "remote", r.RemoteAddr)
	}
}

// pingLoop sends protocol-level pings until the connection closes.
// WriteControl is safe concurrently with the data writes in Send.
func (s *Server) pingLoop(dc *deviceConn, done <-chan struct{}) {
	interval := time.Duration(s.wsCfg.PingInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Duration(s.wsCfg.PongTimeout) * time.Second)
			if err := dc.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop consumes frames until the connection errors out, returning the
// device ID the connection registered as (empty if it never did).
//
// Malformed frames are logged and dropped; the connection stays open.
func (s *Server) readLoop(dc *deviceConn, remote string) string {
	conn := dc.conn
	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))

	readWait := time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	var deviceID string

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device read error", "device_id", deviceID, "error", err)
			} else {
				s.logger.Debug("device connection closed", "device_id", deviceID, "error", err)
			}
			return deviceID
		}
		// Any inbound frame proves the device is alive.
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(readWait))

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("malformed device frame", "device_id", deviceID, "error", err)
			continue
		}

		switch msg.Type {
		case device.MsgTypeRegister:
			deviceID = s.handleRegister(dc, msg, deviceID)
		case device.MsgTypeStatus:
			s.handleStatus(dc, msg, deviceID)
		case device.MsgTypeTelemetry:
			s.handleTelemetry(dc, msg, deviceID)
		case device.MsgTypeCommandResponse:
			s.manager.IngestCommandResponse(msg.CommandID, msg.Data)
		default:
			s.logger.Warn("unknown device frame type", "type", msg.Type, "device_id", deviceID, "remote", remote)
		}
	}
}

// handleRegister binds the connection to the claimed device identity.
// Returns the device ID the connection now speaks for.
//
// A connection holds at most one identity for its lifetime. Allowing a
// switch would leave the first record online with a handle nothing will
// ever close.
func (s *Server) handleRegister(dc *deviceConn, msg inboundMessage, current string) string {
	if current != "" && msg.DeviceID != current {
		s.logger.Warn("register frame changing identity rejected", "registered", current, "claimed", msg.DeviceID)
		if err := dc.Send(registerAck{
			Type:    device.MsgTypeRegisterAck,
			Success: false,
			Message: "Device registration failed",
		}); err != nil {
			s.logger.Warn("register ack failed", "device_id", msg.DeviceID, "error", err)
		}
		return current
	}

	info := device.Info{}
	if msg.DeviceInfo != nil {
		info = device.Info{
			Name:     msg.DeviceInfo.Name,
			Type:     msg.DeviceInfo.Type,
			IP:       msg.DeviceInfo.IP,
			Firmware: msg.DeviceInfo.Firmware,
			Config:   device.Config(msg.DeviceInfo.Config),
		}
	}

	success := msg.DeviceID != "" && s.manager.Register(msg.DeviceID, dc, info)

	ack := registerAck{
		Type:    device.MsgTypeRegisterAck,
		Success: success,
		Message: "Device registered successfully",
	}
	if !success {
		ack.Message = "Device registration failed"
	}
	if err := dc.Send(ack); err != nil {
		s.logger.Warn("register ack failed", "device_id", msg.DeviceID, "error", err)
	}

	if success {
		return msg.DeviceID
	}
	return current
}

// handleStatus ingests a status report after checking the connection owns
// the claimed identity.
func (s *Server) handleStatus(dc *deviceConn, msg inboundMessage, deviceID string) {
	if msg.DeviceID == "" {
		s.logger.Warn("status frame missing device id")
		return
	}
	if msg.DeviceID != deviceID || !s.manager.Owns(msg.DeviceID, dc) {
		s.logger.Warn("status frame from non-owning connection", "claimed", msg.DeviceID, "registered", deviceID)
		return
	}

	data, _ := msg.Data.(map[string]any)
	s.manager.IngestStatus(msg.DeviceID, device.Status(msg.Status), data)
}

// handleTelemetry ingests a telemetry report after the same ownership check.
func (s *Server) handleTelemetry(dc *deviceConn, msg inboundMessage, deviceID string) {
	if msg.DeviceID == "" {
		s.logger.Warn("telemetry frame missing device id")
		return
	}
	if msg.DeviceID != deviceID || !s.manager.Owns(msg.DeviceID, dc) {
		s.logger.Warn("telemetry frame from non-owning connection", "claimed", msg.DeviceID, "registered", deviceID)
		return
	}

	data, ok := msg.Data.(map[string]any)
	if !ok {
		s.logger.Warn("telemetry frame missing data", "device_id", msg.DeviceID)
		return
	}
	s.manager.IngestTelemetry(msg.DeviceID, data)
}
