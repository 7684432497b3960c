// Package api implements the HTTP REST API and the device WebSocket
// listener for the NodeMCU control plane.
//
// This package provides:
//   - REST endpoints for device inspection, commands, config pushes, and
//     record removal
//   - The WebSocket endpoint NodeMCU firmware connects to, demultiplexing
//     register, status, telemetry, and commandResponse frames into the
//     device manager
//   - JWT authentication with a single operator credential
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between operators (REST clients, the agent tool adapter)
// and the device fleet. Commands flow from the API through the device
// manager onto a device's WebSocket; responses flow back over the same
// socket and are correlated to the waiting HTTP request.
//
// The WebSocket endpoint is unauthenticated: devices identify themselves
// with a register frame and every later frame is checked against the
// connection that registered the identity.
package api
