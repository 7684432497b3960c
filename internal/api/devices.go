package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amanasmuei/nodemcu-mcp/internal/device"
)

// handleListDevices returns all device records.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})
}

// handleGetDevice returns a single device record by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.manager.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device record entirely, disconnecting the
// device if it is currently online.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Remove(id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Device deleted successfully",
		"id":      id,
	})
}

// commandRequest is the request body for POST /api/devices/{id}/command.
type commandRequest struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	TimeoutMS int            `json:"timeout_ms"`
}

// handleSendCommand delivers a command to a connected device and returns
// the device's correlated response.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	response, err := s.manager.Send(r.Context(), id, req.Command, req.Params, timeout)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Command sent to device",
		"command":  req.Command,
		"params":   req.Params,
		"response": response,
	})
}

// handleUpdateConfig pushes a configuration change to a connected device
// and returns the merged stored configuration once the device confirms.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg device.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	merged, err := s.manager.UpdateConfig(r.Context(), id, cfg)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Configuration updated",
		"config":  merged,
	})
}
