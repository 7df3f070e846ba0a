package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
)

// connectTimeout bounds how long a dial may take before it is reported as a
// connectivity failure.
const connectTimeout = 5 * time.Second

// tokenTimeout bounds broker acknowledgements (SUBACK, PUBACK) after a
// session is established.
const tokenTimeout = 10 * time.Second

// Message is a single delivery from the broker: the concrete topic it was
// published on and its payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Client is one short-lived broker session. Implementations must be safe to
// disconnect from any exit path; Disconnect is idempotent.
type Client interface {
	// Subscribe registers handler for messages matching filter. The handler
	// may be invoked concurrently with the subscribing goroutine.
	Subscribe(ctx context.Context, filter string, qos byte, handler func(Message)) error

	// Publish sends one message and waits for the broker acknowledgement
	// appropriate to qos.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error

	// Disconnect closes the session.
	Disconnect()
}

// Target identifies the broker a single operation connects to, after
// default resolution.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns the "host:port" form of the target.
func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Dialer opens a new session to a broker. The production implementation is
// [Dial]; tests inject fakes through [WithDialer].
type Dialer func(ctx context.Context, target Target) (Client, error)

// Dial opens a clean-session connection to the target broker using the
// Eclipse Paho client. Reconnect and retry are disabled: a failed dial is
// surfaced immediately as a [ConnectivityError] (or [AuthorizationError]
// when the broker refuses the credentials).
func Dial(ctx context.Context, target Target) (Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + target.Addr()).
		SetClientID("mqttmcp-" + uuid.NewString()[:8]).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if target.Username != "" {
		opts.SetUsername(target.Username)
		opts.SetPassword(target.Password)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()

	select {
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, &ConnectivityError{Target: target.Addr(), Err: ctx.Err()}
	case <-time.After(connectTimeout + time.Second):
		c.Disconnect(0)
		return nil, &ConnectivityError{Target: target.Addr(), Err: errors.New("connect timed out")}
	case <-token.Done():
	}

	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return nil, classifyConnectError(target, err)
	}
	return &pahoClient{c: c, target: target}, nil
}

// classifyConnectError distinguishes credential refusals from everything
// else. Paho surfaces CONNACK return codes as sentinel errors in its
// packets package.
func classifyConnectError(target Target, err error) error {
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return &AuthorizationError{Target: target.Addr(), Err: err}
	}
	return &ConnectivityError{Target: target.Addr(), Err: err}
}

// pahoClient adapts the Paho client to the [Client] interface.
type pahoClient struct {
	c      mqtt.Client
	target Target
}

func (p *pahoClient) Subscribe(ctx context.Context, filter string, qos byte, handler func(Message)) error {
	token := p.c.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := waitToken(ctx, token); err != nil {
		return &ConnectivityError{Target: p.target.Addr(), Err: fmt.Errorf("subscribe %q: %w", filter, err)}
	}
	return nil
}

func (p *pahoClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := p.c.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return &ConnectivityError{Target: p.target.Addr(), Err: fmt.Errorf("publish %q: %w", topic, err)}
	}
	return nil
}

func (p *pahoClient) Disconnect() {
	// quiesce in milliseconds; allows in-flight acks to complete.
	p.c.Disconnect(250)
}

// waitToken waits for a Paho token with both a context and a hard deadline.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tokenTimeout):
		return errors.New("broker acknowledgement timed out")
	case <-token.Done():
		return token.Error()
	}
}
