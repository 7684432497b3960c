package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/amanasmuei/nodemcu-mcp/internal/device"
	"github.com/amanasmuei/nodemcu-mcp/internal/infrastructure/logging"
)

// protocolVersion is the adapter protocol version advertised on initialize.
const protocolVersion = "0.1"

// maxLineSize bounds a single protocol frame (1 MB).
const maxLineSize = 1 << 20

// DeviceService is the slice of the device manager the adapter needs.
type DeviceService interface {
	List() []device.Device
	Get(deviceID string) (*device.Device, error)
	Send(ctx context.Context, deviceID, command string, params map[string]any, timeout time.Duration) (any, error)
	UpdateConfig(ctx context.Context, deviceID string, cfg device.Config) (device.Config, error)
}

// Deps holds the dependencies required by the adapter.
type Deps struct {
	Service DeviceService
	Logger  *logging.Logger

	// In and Out default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// Server is the stdio tool adapter.
type Server struct {
	svc    DeviceService
	logger *logging.Logger
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer
}

// New creates a new adapter. It does not read or write anything until
// Run is called.
func New(deps Deps) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		svc:    deps.Service,
		logger: deps.Logger,
		in:     deps.In,
		out:    deps.Out,
	}
	if s.in == nil {
		s.in = os.Stdin
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	return s, nil
}

// request is an inbound protocol frame.
type request struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"tool_name"`
	ToolParams map[string]any `json:"tool_params"`
	RequestID  string         `json:"request_id"`
}

// toolResponse is the reply to an execute_tool request.
type toolResponse struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id"`
	Status    string     `json:"status"`
	Result    any        `json:"result,omitempty"`
	Error     *toolError `json:"error,omitempty"`
}

type toolError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Run emits the initialize message and serves requests until the input
// stream ends or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.writeFrame(map[string]any{
		"type":             "initialize",
		"protocol_version": protocolVersion,
		"tools":            toolDefinitions,
	}); err != nil {
		return fmt.Errorf("writing initialize message: %w", err)
	}
	s.logger.Info("tool adapter ready", "tools", len(toolDefinitions))

	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tool adapter stopping")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				s.logger.Info("input stream closed")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.processMessage(ctx, line)
		}
	}
}

// processMessage handles one inbound frame.
func (s *Server) processMessage(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("malformed protocol frame", "error", err)
		s.sendError("", "internal_error", "failed to parse message")
		return
	}

	switch req.Type {
	case "execute_tool":
		s.handleToolExecution(ctx, req)
	default:
		s.logger.Warn("unknown message type", "type", req.Type)
	}
}

// handleToolExecution runs the requested tool and writes the response.
func (s *Server) handleToolExecution(ctx context.Context, req request) {
	result, err := s.executeTool(ctx, req.ToolName, req.ToolParams)
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", req.ToolName, "error", err)
		s.sendError(req.RequestID, "tool_execution_error", err.Error())
		return
	}

	s.sendResult(req.RequestID, result)
}

// sendResult writes a success tool_response.
func (s *Server) sendResult(requestID string, result any) {
	s.writeResponse(toolResponse{
		Type:      "tool_response",
		RequestID: requestID,
		Status:    "success",
		Result:    result,
	})
}

// sendError writes an error tool_response.
func (s *Server) sendError(requestID, errType, message string) {
	s.writeResponse(toolResponse{
		Type:      "tool_response",
		RequestID: requestID,
		Status:    "error",
		Error: &toolError{
			Type:    errType,
			Message: message,
		},
	})
}

func (s *Server) writeResponse(resp toolResponse) {
	if err := s.writeFrame(resp); err != nil {
		s.logger.Error("writing tool response failed", "error", err)
	}
}

// writeFrame marshals v and writes it as one newline-terminated frame.
func (s *Server) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	_, err = s.out.Write([]byte("\n"))
	return err
}
