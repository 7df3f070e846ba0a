package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mqttmcp/internal/broker"
)

// The receive operation is also exposed as a resource template so that MCP
// clients which model reads as resources can use it without a tool call.
// Both surfaces share the single gateway receive path.
//
// URI form: mqtt://{host}/{+topic} — the host segment may include a port
// ("10.0.0.5:1884") or be empty ("mqtt:///sensors/temp") to use the
// configured default broker. The wait uses the default receive timeout.

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "receive_message",
		Description: "Waits for the next MQTT message on the topic encoded in the URI.",
		URITemplate: "mqtt://{host}/{+topic}",
		MIMEType:    "text/plain",
	}, s.handleReceiveResource)
}

func (s *Server) handleReceiveResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	host, port, topic, err := parseReceiveURI(uri)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.Receive(ctx, broker.ReceiveRequest{
		Topic:   topic,
		Host:    host,
		Port:    port,
		Timeout: broker.DefaultTimeout,
	})
	if err != nil {
		return nil, err
	}

	text := result.Topic + ": " + result.Payload
	if result.NoMessage {
		text = fmt.Sprintf("no message received on %q within %s", topic, broker.DefaultTimeout)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "text/plain", Text: text},
		},
	}, nil
}

// parseReceiveURI splits an mqtt:// resource URI into broker coordinates
// and a topic filter. Zero values mean "use the configured default".
func parseReceiveURI(uri string) (host string, port int, topic string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", 0, "", fmt.Errorf("mcpserver: invalid resource uri %q: %w", uri, err)
	}
	if u.Scheme != "mqtt" {
		return "", 0, "", fmt.Errorf("mcpserver: unsupported resource scheme %q", u.Scheme)
	}

	host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", fmt.Errorf("mcpserver: invalid port in resource uri %q", uri)
		}
	}

	topic, err = url.PathUnescape(strings.TrimPrefix(u.Path, "/"))
	if err != nil || topic == "" {
		return "", 0, "", fmt.Errorf("mcpserver: resource uri %q carries no topic", uri)
	}
	return host, port, topic, nil
}
