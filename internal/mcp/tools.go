package mcp

import (
	"context"
	"fmt"

	"github.com/amanasmuei/nodemcu-mcp/internal/device"
)

// toolParameter describes one parameter in a tool definition.
type toolParameter struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// toolDefinition describes one tool advertised in the initialize message.
type toolDefinition struct {
	Description string                   `json:"description"`
	Parameters  map[string]toolParameter `json:"parameters"`
}

// toolDefinitions is the static tool catalogue.
var toolDefinitions = map[string]toolDefinition{
	"list-devices": {
		Description: "List all registered NodeMCU devices and their status",
		Parameters:  map[string]toolParameter{},
	},
	"get-device": {
		Description: "Get detailed information about a specific NodeMCU device",
		Parameters: map[string]toolParameter{
			"deviceId": {
				Type:        "string",
				Description: "The ID of the device to get information about",
			},
		},
	},
	"send-command": {
		Description: "Send a command to a NodeMCU device",
		Parameters: map[string]toolParameter{
			"deviceId": {
				Type:        "string",
				Description: "The ID of the device to send the command to",
			},
			"command": {
				Type:        "string",
				Description: "The command to send (restart, update, status, etc.)",
			},
			"params": {
				Type:        "object",
				Description: "Optional parameters for the command",
			},
		},
	},
	"update-config": {
		Description: "Update the configuration of a NodeMCU device",
		Parameters: map[string]toolParameter{
			"deviceId": {
				Type:        "string",
				Description: "The ID of the device to update configuration for",
			},
			"config": {
				Type:        "object",
				Description: "Configuration parameters to update",
			},
		},
	},
}

// executeTool dispatches a tool call to the device service.
func (s *Server) executeTool(ctx context.Context, name string, params map[string]any) (any, error) {
	switch name {
	case "list-devices":
		return s.listDevices(), nil
	case "get-device":
		return s.getDevice(params)
	case "send-command":
		return s.sendCommand(ctx, params)
	case "update-config":
		return s.updateConfig(ctx, params)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// deviceSummary is the compact listing returned by list-devices.
type deviceSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   device.Status `json:"status"`
	LastSeen string        `json:"lastSeen"`
}

func (s *Server) listDevices() any {
	devices := s.svc.List()
	summaries := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		summaries = append(summaries, deviceSummary{
			ID:       d.ID,
			Name:     d.Name,
			Status:   d.Status,
			LastSeen: d.LastSeen.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return map[string]any{
		"devices": summaries,
		"count":   len(summaries),
	}
}

func (s *Server) getDevice(params map[string]any) (any, error) {
	deviceID, err := stringParam(params, "deviceId")
	if err != nil {
		return nil, err
	}

	dev, err := s.svc.Get(deviceID)
	if err != nil {
		return nil, fmt.Errorf("device not found: %s", deviceID)
	}
	return dev, nil
}

func (s *Server) sendCommand(ctx context.Context, params map[string]any) (any, error) {
	deviceID, err := stringParam(params, "deviceId")
	if err != nil {
		return nil, err
	}
	command, err := stringParam(params, "command")
	if err != nil {
		return nil, err
	}

	cmdParams, _ := params["params"].(map[string]any)

	result, err := s.svc.Send(ctx, deviceID, command, cmdParams, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	return result, nil
}

func (s *Server) updateConfig(ctx context.Context, params map[string]any) (any, error) {
	deviceID, err := stringParam(params, "deviceId")
	if err != nil {
		return nil, err
	}

	cfg, ok := params["config"].(map[string]any)
	if !ok || len(cfg) == 0 {
		return nil, fmt.Errorf("config is required")
	}

	merged, err := s.svc.UpdateConfig(ctx, deviceID, device.Config(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to update configuration: %w", err)
	}
	return map[string]any{
		"success": true,
		"config":  merged,
	}, nil
}

// stringParam extracts a required non-empty string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
