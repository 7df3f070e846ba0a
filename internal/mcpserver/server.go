// Package mcpserver exposes the broker gateway as an MCP server using the
// official MCP Go SDK.
//
// The tool surface is three operations: receive_message, publish_message,
// and the mqtt_help prompt (plus an mqtt_error prompt for error recovery
// dialogues). The single receive behavior is additionally exposed as an
// mqtt:// resource template, backed by the same gateway path.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mqttmcp/internal/broker"
	"github.com/MrWong99/mqttmcp/internal/observe"
)

// serverName and serverVersion identify this implementation during the MCP
// handshake.
const (
	serverName    = "mqttmcp"
	serverVersion = "1.0.0"
)

// Server wires the broker gateway into an [mcp.Server].
type Server struct {
	mcpServer *mcp.Server
	gateway   *broker.Gateway
	metrics   *observe.Metrics
}

// New creates the MCP server and registers all tools, prompts, and
// resources. metrics may be nil.
func New(gateway *broker.Gateway, metrics *observe.Metrics) *Server {
	s := &Server{
		mcpServer: mcp.NewServer(
			&mcp.Implementation{Name: serverName, Title: "MQTT MCP Server", Version: serverVersion},
			nil,
		),
		gateway: gateway,
		metrics: metrics,
	}
	s.registerTools()
	s.registerPrompts()
	s.registerResources()
	return s
}

// MCPServer returns the underlying SDK server, e.g. for the streamable
// HTTP handler.
func (s *Server) MCPServer() *mcp.Server { return s.mcpServer }

// RunStdio serves a single MCP client over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// receiveInput is the receive_message tool argument shape. Host, port, and
// timeout are optional; omitted values fall back to the configured broker
// defaults and a 60 second wait.
type receiveInput struct {
	Topic   string `json:"topic" jsonschema:"topic filter to subscribe to; supports + and # wildcards"`
	Host    string `json:"host,omitempty" jsonschema:"broker host; defaults to the configured broker"`
	Port    int    `json:"port,omitempty" jsonschema:"broker TCP port; defaults to the configured broker"`
	Timeout *int   `json:"timeout,omitempty" jsonschema:"seconds to wait for a message; defaults to 60"`
}

// publishInput is the publish_message tool argument shape.
type publishInput struct {
	Topic   string `json:"topic" jsonschema:"concrete topic to publish to; wildcards are not allowed"`
	Message string `json:"message" jsonschema:"message payload; may be empty"`
	Host    string `json:"host,omitempty" jsonschema:"broker host; defaults to the configured broker"`
	Port    int    `json:"port,omitempty" jsonschema:"broker TCP port; defaults to the configured broker"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "receive_message",
		Description: "Subscribe to an MQTT topic filter and wait for the next matching message. Returns the concrete topic and payload, or a no-message notice when the timeout elapses.",
	}, s.handleReceive)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "publish_message",
		Description: "Publish a message to an MQTT topic and return a confirmation.",
	}, s.handlePublish)
}

func (s *Server) handleReceive(ctx context.Context, _ *mcp.CallToolRequest, in receiveInput) (*mcp.CallToolResult, any, error) {
	timeout := broker.DefaultTimeout
	if in.Timeout != nil {
		if *in.Timeout <= 0 {
			s.recordTool(ctx, "receive_message", "error")
			return toolError(&broker.InvalidArgumentError{Field: "timeout", Reason: "must be positive"}), nil, nil
		}
		timeout = time.Duration(*in.Timeout) * time.Second
	}

	result, err := s.gateway.Receive(ctx, broker.ReceiveRequest{
		Topic:   in.Topic,
		Host:    in.Host,
		Port:    in.Port,
		Timeout: timeout,
	})
	if err != nil {
		s.recordTool(ctx, "receive_message", "error")
		return toolError(err), nil, nil
	}

	s.recordTool(ctx, "receive_message", "ok")
	if result.NoMessage {
		return textResult(fmt.Sprintf("no message received on %q within %s", in.Topic, timeout)), nil, nil
	}
	return textResult(result.Topic + ": " + result.Payload), nil, nil
}

func (s *Server) handlePublish(ctx context.Context, _ *mcp.CallToolRequest, in publishInput) (*mcp.CallToolResult, any, error) {
	confirmation, err := s.gateway.Publish(ctx, broker.PublishRequest{
		Topic:   in.Topic,
		Message: in.Message,
		Host:    in.Host,
		Port:    in.Port,
	})
	if err != nil {
		s.recordTool(ctx, "publish_message", "error")
		return toolError(err), nil, nil
	}
	s.recordTool(ctx, "publish_message", "ok")
	return textResult(confirmation), nil, nil
}

func (s *Server) recordTool(ctx context.Context, tool, status string) {
	if s.metrics != nil {
		s.metrics.RecordToolCall(ctx, tool, status)
	}
}

// textResult wraps a plain string into a successful tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// toolError converts a gateway error into a tool-level error result. The
// error class is spelled out so the calling agent can react to it; the
// protocol layer never retries.
func toolError(err error) *mcp.CallToolResult {
	var text string
	switch {
	case broker.IsInvalidArgument(err):
		text = "invalid argument: " + err.Error()
	case broker.IsAuthorization(err):
		text = "authorization failure: " + err.Error()
	case broker.IsConnectivity(err):
		text = "connectivity failure: " + err.Error()
	default:
		text = err.Error()
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
