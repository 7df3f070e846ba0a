package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// helpText is the static body of the mqtt_help prompt. It documents the
// tool surface with example invocations an agent can imitate.
const helpText = `This server exposes MQTT publish/subscribe as two tools.

publish_message sends one message:
  publish_message(topic="devices/foo", message="{\"state\":\"on\"}")
  publish_message(topic="devices/foo", message="ping", host="10.0.0.5", port=1884)

receive_message waits for the next message on a topic filter:
  receive_message(topic="sensors/temperature")
  receive_message(topic="devices/+/status", timeout=30)
  receive_message(topic="devices/#", host="10.0.0.5")

Filters support MQTT wildcards: "+" matches one level, "#" matches the rest
of the topic tree. When no host or port is given, the server's configured
default broker is used. receive_message returns "<topic>: <payload>" on
delivery, or a no-message notice when the timeout elapses — that is a
normal outcome, not an error.`

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "mqtt_help",
		Description: "Examples of how to use the MQTT tools.",
	}, handleHelp)

	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "mqtt_error",
		Description: "Asks the user how to handle an MQTT error.",
		Arguments: []*mcp.PromptArgument{
			{Name: "error", Description: "The error message to recover from.", Required: false},
		},
	}, handleError)
}

func handleHelp(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: helpText}},
		},
	}, nil
}

func handleError(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	errText := req.Params.Arguments["error"]
	if errText == "" {
		return &mcp.GetPromptResult{}, nil
	}
	return &mcp.GetPromptResult{
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: fmt.Sprintf("ERROR: %q", errText)}},
			{Role: "user", Content: &mcp.TextContent{Text: "Would you like to retry, change parameters, or abort?"}},
		},
	}, nil
}
