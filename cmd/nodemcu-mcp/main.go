// NodeMCU MCP - fleet control plane for NodeMCU (ESP8266/ESP32) devices.
//
// This is the main entry point for the control plane. It terminates the
// persistent WebSocket connections devices hold open, correlates commands
// with their responses, and exposes the fleet over three surfaces:
//   - an HTTP REST API (JWT-protected)
//   - an MQTT lifecycle event relay (optional)
//   - a stdio tool adapter for AI agents
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amanasmuei/nodemcu-mcp/internal/api"
	"github.com/amanasmuei/nodemcu-mcp/internal/device"
	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/config"
	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/influxdb"
	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/logging"
	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/mqtt"
	"github.com/amanasmuei/nodemcu-mcp/internal/mcp"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Run modes.
const (
	modeAPI  = "api"
	modeMCP  = "mcp"
	modeBoth = "both"
)

func main() {
	mode := flag.String("mode", modeAPI, "run mode: api, mcp, or both")
	flag.Parse()

	if err := validMode(*mode); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *mode); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// validMode checks the -mode flag value.
func validMode(mode string) error {
	switch mode {
	case modeAPI, modeMCP, modeBoth:
		return nil
	default:
		return fmt.Errorf("invalid mode %q (want api, mcp, or both)", mode)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, mode string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NodeMCU MCP",
		"version", version,
		"commit", commit,
		"build_date", date,
		"mode", mode,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// In MCP modes stdout carries protocol frames, so logs must go to stderr.
	if mode != modeAPI && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Initialise the device manager
	manager := device.NewManager()
	manager.SetLogger(log)
	manager.SetDefaultTimeout(cfg.GetCommandTimeout())
	defer func() {
		log.Info("closing device manager")
		manager.Close()
	}()
	log.Info("device manager initialised", "command_timeout", cfg.GetCommandTimeout())

	// Connect to MQTT broker (optional) and relay lifecycle events
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		relay := &mqttEventRelay{client: mqttClient, qos: byte(cfg.MQTT.QoS), log: log}
		manager.Subscribe(relay)

		commands := &mqttCommandChannel{
			sender:  manager,
			results: mqttClient,
			qos:     byte(cfg.MQTT.QoS),
			log:     log,
		}
		if err := mqttClient.Subscribe(mqtt.Topics{}.AllDeviceCommands(), byte(cfg.MQTT.QoS), commands.handle); err != nil {
			return fmt.Errorf("subscribing to the MQTT command channel: %w", err)
		}
		log.Info("MQTT command channel listening", "topic", mqtt.Topics{}.AllDeviceCommands())
	} else {
		log.Info("MQTT relay disabled")
	}

	// Connect to InfluxDB (optional) and sink telemetry
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		manager.Subscribe(device.ObserverFunc(func(evt device.Event) error {
			if tp, ok := evt.Payload.(device.TelemetryPayload); ok {
				influxClient.WriteTelemetry(tp.DeviceID, tp.Data, evt.Timestamp)
			}
			return nil
		}))
	} else {
		log.Info("InfluxDB sink disabled")
	}

	// Start the HTTP API server
	if mode == modeAPI || mode == modeBoth {
		apiServer, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Manager:  manager,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Start the stdio tool adapter
	mcpDone := make(chan error, 1)
	if mode == modeMCP || mode == modeBoth {
		adapter, err := mcp.New(mcp.Deps{
			Service: manager,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("creating tool adapter: %w", err)
		}
		go func() {
			mcpDone <- adapter.Run(ctx)
		}()
	}

	// Verify optional connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown: a signal, or the tool adapter's input closing.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-mcpDone:
		if err != nil {
			return fmt.Errorf("tool adapter: %w", err)
		}
		log.Info("tool adapter input closed, shutting down")
	}

	log.Info("NodeMCU MCP stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NODEMCU_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NODEMCU_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional infrastructure connections.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttEventRelay publishes device lifecycle events to the MQTT broker so
// external consumers can follow the fleet without touching the core.
type mqttEventRelay struct {
	client *mqtt.Client
	qos    byte
	log    *logging.Logger
}

// OnEvent implements device.Observer.
func (r *mqttEventRelay) OnEvent(evt device.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	topics := mqtt.Topics{}
	topic := topics.Event(string(evt.Kind))
	switch p := evt.Payload.(type) {
	case device.ConnectedPayload:
		topic = topics.DeviceEvent(p.Device.ID, string(evt.Kind))
	case device.DisconnectedPayload:
		topic = topics.DeviceEvent(p.DeviceID, string(evt.Kind))
	case device.CommandSentPayload:
		topic = topics.DeviceEvent(p.DeviceID, string(evt.Kind))
	case device.TelemetryPayload:
		topic = topics.DeviceTelemetry(p.DeviceID)
	}

	if err := r.client.Publish(topic, payload, r.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// commandSender is the slice of the device manager the command channel
// needs.
type commandSender interface {
	Send(ctx context.Context, deviceID, command string, params map[string]any, timeout time.Duration) (any, error)
}

// resultPublisher is how command outcomes leave the process.
type resultPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// commandRequest is the payload expected on a device command topic.
type commandRequest struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	TimeoutMS int            `json:"timeoutMs,omitempty"`
}

// mqttCommandChannel dispatches commands arriving over the broker to
// connected devices and publishes each outcome on the matching result
// topic. It is the broker-side twin of the REST command endpoint.
type mqttCommandChannel struct {
	sender  commandSender
	results resultPublisher
	qos     byte
	log     *logging.Logger
}

// handle runs on a paho goroutine, so it validates and hands off. The
// round trip with the device happens in execute.
func (ch *mqttCommandChannel) handle(topic string, payload []byte) error {
	deviceID, ok := mqtt.ParseDeviceCommand(topic)
	if !ok {
		return fmt.Errorf("not a device command topic: %s", topic)
	}

	var req commandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding command for %s: %w", deviceID, err)
	}
	if req.Command == "" {
		return fmt.Errorf("empty command for %s", deviceID)
	}

	go ch.execute(deviceID, req)
	return nil
}

// execute sends the command and publishes the outcome. A zero timeout
// defers to the manager's default.
func (ch *mqttCommandChannel) execute(deviceID string, req commandRequest) {
	var timeout time.Duration
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	response, err := ch.sender.Send(context.Background(), deviceID, req.Command, req.Params, timeout)

	outcome := map[string]any{
		"deviceId": deviceID,
		"command":  req.Command,
		"success":  err == nil,
	}
	if err != nil {
		outcome["error"] = err.Error()
	} else {
		outcome["response"] = response
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		ch.log.Error("marshaling command outcome", "device_id", deviceID, "error", err)
		return
	}
	topic := mqtt.Topics{}.DeviceCommandResult(deviceID)
	if err := ch.results.Publish(topic, data, ch.qos, false); err != nil {
		ch.log.Warn("publishing command outcome failed", "topic", topic, "error", err)
	}
}
