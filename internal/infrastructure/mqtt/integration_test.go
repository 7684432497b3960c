//go:build integration

package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/config"
)

// Integration tests covering broker behaviour that unit tests cannot
// observe: retained delivery, status announcements, and the command
// channel wire format end to end. A Mosquitto at 127.0.0.1:1883 is
// required.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// TestIntegration_ShutdownAnnouncement verifies a graceful Close
// publishes an offline status other consumers can observe.
func TestIntegration_ShutdownAnnouncement(t *testing.T) {
	observer, err := Connect(integrationConfig("nodemcu-int-observer"))
	if err != nil {
		t.Fatalf("Connect() observer error = %v", err)
	}
	defer observer.Close()

	announcements := make(chan statusAnnouncement, 8)
	err = observer.Subscribe(Topics{}.SystemStatus(), 1, func(_ string, payload []byte) error {
		var ann statusAnnouncement
		if err := json.Unmarshal(payload, &ann); err != nil {
			return err
		}
		announcements <- ann
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	subject, err := Connect(integrationConfig("nodemcu-int-subject"))
	if err != nil {
		t.Fatalf("Connect() subject error = %v", err)
	}
	if err := subject.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ann := <-announcements:
			if ann.ClientID == "nodemcu-int-subject" && ann.Status == "offline" {
				if ann.Reason != "graceful_shutdown" {
					t.Errorf("reason = %q, want graceful_shutdown", ann.Reason)
				}
				return
			}
		case <-deadline:
			t.Fatal("no offline announcement for the closed client")
		}
	}
}

// TestIntegration_CommandChannelWireFormat drives the command topics the
// way an external consumer would: a command request in, a result out.
func TestIntegration_CommandChannelWireFormat(t *testing.T) {
	plane, err := Connect(integrationConfig("nodemcu-int-plane"))
	if err != nil {
		t.Fatalf("Connect() plane error = %v", err)
	}
	defer plane.Close()

	// Stand-in for the control plane: answer every command with success.
	err = plane.Subscribe(Topics{}.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
		deviceID, ok := ParseDeviceCommand(topic)
		if !ok {
			t.Errorf("unparseable command topic %q", topic)
			return nil
		}
		var req struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		outcome, _ := json.Marshal(map[string]any{
			"deviceId": deviceID,
			"command":  req.Command,
			"success":  true,
		})
		return plane.Publish(Topics{}.DeviceCommandResult(deviceID), outcome, 1, false)
	})
	if err != nil {
		t.Fatalf("Subscribe(commands) error = %v", err)
	}

	requester, err := Connect(integrationConfig("nodemcu-int-requester"))
	if err != nil {
		t.Fatalf("Connect() requester error = %v", err)
	}
	defer requester.Close()

	results := make(chan []byte, 1)
	var once sync.Once
	err = requester.Subscribe(Topics{}.DeviceCommandResult("esp-int-01"), 1, func(_ string, payload []byte) error {
		once.Do(func() { results <- append([]byte(nil), payload...) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe(result) error = %v", err)
	}

	err = requester.PublishString(Topics{}.DeviceCommand("esp-int-01"), `{"command":"status"}`, 1, false)
	if err != nil {
		t.Fatalf("Publish(command) error = %v", err)
	}

	select {
	case payload := <-results:
		var outcome map[string]any
		if err := json.Unmarshal(payload, &outcome); err != nil {
			t.Fatalf("decoding outcome: %v", err)
		}
		if outcome["deviceId"] != "esp-int-01" || outcome["success"] != true {
			t.Errorf("outcome = %v", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no command result received")
	}
}

// TestIntegration_RetainedStatus verifies a retained publish reaches a
// subscriber that connects afterwards.
func TestIntegration_RetainedStatus(t *testing.T) {
	pub, err := Connect(integrationConfig("nodemcu-int-retain-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topic := Topics{}.DeviceStatus("esp-int-retained")
	if err := pub.PublishRetained(topic, []byte(`{"status":"online"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub, err := Connect(integrationConfig("nodemcu-int-retain-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan []byte, 1)
	var once sync.Once
	err = sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		once.Do(func() { received <- append([]byte(nil), payload...) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"status":"online"}` {
			t.Errorf("retained payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not delivered to late subscriber")
	}

	// Clear the retained message so reruns start clean.
	if err := pub.Publish(topic, nil, 1, true); err != nil {
		t.Errorf("clearing retained message: %v", err)
	}
}
