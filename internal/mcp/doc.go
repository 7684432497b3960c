// Package mcp implements the stdio tool adapter that exposes the device
// fleet to AI agents.
//
// The protocol is line-delimited JSON over stdin/stdout. On startup the
// server emits an initialize message advertising its tool definitions;
// afterwards it answers execute_tool requests with tool_response messages.
// Diagnostics go to the logger (stderr in this mode), never stdout, which
// carries protocol frames only.
//
// The adapter calls the device manager through the narrow DeviceService
// interface and holds no state of its own.
package mcp
