package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial broker handshake.
	connectTimeout = 10 * time.Second

	// operationTimeout bounds publish, subscribe and unsubscribe acks.
	operationTimeout = 5 * time.Second

	// disconnectQuiesceMS is how long Disconnect waits for in-flight
	// work, in milliseconds as paho wants it.
	disconnectQuiesceMS = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions maps our broker config onto paho options: clean
// session, auto-reconnect with backoff between the configured delays,
// and TLS 1.2 or better when enabled.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// statusAnnouncement is the payload on the system status topic. Reason
// is set only for offline announcements.
type statusAnnouncement struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (a statusAnnouncement) encode() string {
	a.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(a)
	return string(data)
}

// configureWill arms a retained Last Will on the system status topic.
// The broker publishes it on an ungraceful disconnect, so consumers can
// tell a crash from a shutdown announced by Close.
func configureWill(opts *pahomqtt.ClientOptions, clientID string) {
	payload := statusAnnouncement{
		Status:   "offline",
		ClientID: clientID,
		Reason:   "unexpected_disconnect",
	}.encode()
	opts.SetWill(Topics{}.SystemStatus(), payload, 1, true)
}

func onlinePayload(clientID string) string {
	return statusAnnouncement{Status: "online", ClientID: clientID}.encode()
}

func offlinePayload(clientID string) string {
	return statusAnnouncement{
		Status:   "offline",
		ClientID: clientID,
		Reason:   "graceful_shutdown",
	}.encode()
}
