// Package broker implements the gateway between MCP tool calls and an MQTT
// broker.
//
// Every operation is independent: it resolves its effective connection
// parameters (explicit call arguments override the configured defaults),
// dials a fresh clean session, performs exactly one receive or publish, and
// tears the session down on every exit path. No connection, subscription,
// or message state survives a call.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/mqttmcp/internal/observe"
)

// DefaultTimeout is the receive wait applied when the caller does not name
// one.
const DefaultTimeout = 60 * time.Second

// qosAtLeastOnce is used for both subscribe and publish. One delivery per
// call is all the gateway needs; duplicates are harmless because a receive
// only ever reports the first message.
const qosAtLeastOnce byte = 1

// Settings are the process-wide default connection parameters, fixed at
// startup. The gateway never mutates them.
type Settings struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ReceiveRequest describes one receive-or-timeout operation. Host and Port
// are optional; zero values fall back to the gateway defaults. Timeout must
// be positive.
type ReceiveRequest struct {
	Topic   string
	Host    string
	Port    int
	Timeout time.Duration
}

// ReceiveResult is the outcome of a receive operation. Exactly one of the
// two shapes is populated: a delivered message (Topic + Payload) or
// NoMessage set, meaning the window elapsed without a matching publish.
// A timeout is a normal outcome, not an error.
type ReceiveResult struct {
	// Topic is the concrete topic the message was published on, which may
	// be more specific than the subscribed filter.
	Topic string

	// Payload is the message body.
	Payload string

	// NoMessage reports that no message arrived within the window.
	NoMessage bool
}

// PublishRequest describes one publish operation. The topic must be
// concrete (no wildcards); the message may be empty.
type PublishRequest struct {
	Topic   string
	Message string
	Host    string
	Port    int
}

// Gateway performs single-shot MQTT operations against a broker. It holds
// no mutable state, so one Gateway serves any number of concurrent calls.
type Gateway struct {
	settings Settings
	dial     Dialer
	metrics  *observe.Metrics
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithDialer replaces the production Paho dialer. Used by tests to run
// against an in-process broker.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dial = d }
}

// WithMetrics attaches operation metrics. Without it the gateway records
// nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway with the given default connection settings.
func New(settings Settings, opts ...Option) *Gateway {
	g := &Gateway{
		settings: settings,
		dial:     Dial,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolve applies the parameter-resolution policy: explicit call values win,
// unspecified fields fall back to the configured defaults. Credentials
// always come from the defaults.
func (g *Gateway) resolve(host string, port int) (Target, error) {
	t := Target{
		Host:     host,
		Port:     port,
		Username: g.settings.Username,
		Password: g.settings.Password,
	}
	if t.Host == "" {
		t.Host = g.settings.Host
	}
	if t.Port == 0 {
		t.Port = g.settings.Port
	}
	if t.Port < 1 || t.Port > 65535 {
		return Target{}, &InvalidArgumentError{Field: "port", Reason: fmt.Sprintf("%d is outside [1, 65535]", t.Port)}
	}
	return t, nil
}

// Receive subscribes to the request's topic filter and blocks until one
// matching message arrives or the timeout elapses. The session is closed
// before Receive returns, on every path.
func (g *Gateway) Receive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	start := time.Now()

	if err := ValidateFilter(req.Topic); err != nil {
		g.record(ctx, "receive", "invalid", start)
		return nil, err
	}
	if req.Timeout <= 0 {
		g.record(ctx, "receive", "invalid", start)
		return nil, &InvalidArgumentError{Field: "timeout", Reason: "must be positive"}
	}
	target, err := g.resolve(req.Host, req.Port)
	if err != nil {
		g.record(ctx, "receive", "invalid", start)
		return nil, err
	}

	client, err := g.dial(ctx, target)
	if err != nil {
		g.record(ctx, "receive", errStatus(err), start)
		return nil, err
	}
	defer client.Disconnect()

	// Buffered so the first delivery never blocks the broker callback;
	// later deliveries are dropped, which is fine: one message per call.
	messages := make(chan Message, 1)
	err = client.Subscribe(ctx, req.Topic, qosAtLeastOnce, func(m Message) {
		select {
		case messages <- m:
		default:
		}
	})
	if err != nil {
		g.record(ctx, "receive", errStatus(err), start)
		return nil, err
	}

	slog.Debug("subscribed, waiting for a message",
		"topic", req.Topic, "broker", target.Addr(), "timeout", req.Timeout)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case m := <-messages:
		g.record(ctx, "receive", "ok", start)
		return &ReceiveResult{Topic: m.Topic, Payload: string(m.Payload)}, nil
	case <-timer.C:
		g.record(ctx, "receive", "timeout", start)
		return &ReceiveResult{NoMessage: true}, nil
	case <-ctx.Done():
		g.record(ctx, "receive", "cancelled", start)
		return nil, fmt.Errorf("broker: receive on %q: %w", req.Topic, ctx.Err())
	}
}

// Publish sends one message to the request's topic and returns a
// confirmation string naming the topic, target, and payload size.
func (g *Gateway) Publish(ctx context.Context, req PublishRequest) (string, error) {
	start := time.Now()

	if err := ValidateTopic(req.Topic); err != nil {
		g.record(ctx, "publish", "invalid", start)
		return "", err
	}
	target, err := g.resolve(req.Host, req.Port)
	if err != nil {
		g.record(ctx, "publish", "invalid", start)
		return "", err
	}

	client, err := g.dial(ctx, target)
	if err != nil {
		g.record(ctx, "publish", errStatus(err), start)
		return "", err
	}
	defer client.Disconnect()

	if err := client.Publish(ctx, req.Topic, qosAtLeastOnce, []byte(req.Message)); err != nil {
		g.record(ctx, "publish", errStatus(err), start)
		return "", err
	}

	g.record(ctx, "publish", "ok", start)
	slog.Debug("published", "topic", req.Topic, "broker", target.Addr(), "bytes", len(req.Message))
	return fmt.Sprintf("publish to %s on %s succeeded (%d bytes)", req.Topic, target.Addr(), len(req.Message)), nil
}

// record emits the per-operation counter and latency histogram when metrics
// are attached.
func (g *Gateway) record(ctx context.Context, op, status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordBrokerOp(ctx, op, status, time.Since(start).Seconds())
}

// errStatus maps a gateway error to a metric status label.
func errStatus(err error) string {
	switch {
	case IsAuthorization(err):
		return "unauthorized"
	case IsConnectivity(err):
		return "unreachable"
	default:
		return "error"
	}
}
