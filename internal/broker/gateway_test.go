package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeHub is an in-process stand-in for a broker: it routes published
// messages to subscriptions by MQTT filter matching. It has no
// store-and-forward, mirroring real pub/sub semantics.
type fakeHub struct {
	mu         sync.Mutex
	subs       []*fakeSub
	dialed     []Target
	subscribed chan struct{}
}

type fakeSub struct {
	filter  string
	handler func(Message)
}

func newFakeHub() *fakeHub {
	return &fakeHub{subscribed: make(chan struct{}, 16)}
}

// dialer returns a Dialer that records the dialed target and hands out
// sessions connected to this hub.
func (h *fakeHub) dialer() Dialer {
	return func(_ context.Context, target Target) (Client, error) {
		h.mu.Lock()
		h.dialed = append(h.dialed, target)
		h.mu.Unlock()
		return &fakeClient{hub: h}, nil
	}
}

// publish delivers payload to every live subscription whose filter matches
// topic.
func (h *fakeHub) publish(topic, payload string) {
	h.mu.Lock()
	subs := make([]*fakeSub, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, s := range subs {
		if MatchFilter(s.filter, topic) {
			s.handler(Message{Topic: topic, Payload: []byte(payload)})
		}
	}
}

// waitSubscribed blocks until a subscription has been registered.
func (h *fakeHub) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-h.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a subscription")
	}
}

func (h *fakeHub) lastDialed(t *testing.T) Target {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dialed) == 0 {
		t.Fatal("nothing was dialed")
	}
	return h.dialed[len(h.dialed)-1]
}

type fakeClient struct {
	hub          *fakeHub
	mu           sync.Mutex
	ownSubs      []*fakeSub
	disconnected bool
}

func (c *fakeClient) Subscribe(_ context.Context, filter string, _ byte, handler func(Message)) error {
	sub := &fakeSub{filter: filter, handler: handler}
	c.mu.Lock()
	c.ownSubs = append(c.ownSubs, sub)
	c.mu.Unlock()

	c.hub.mu.Lock()
	c.hub.subs = append(c.hub.subs, sub)
	c.hub.mu.Unlock()

	c.hub.subscribed <- struct{}{}
	return nil
}

func (c *fakeClient) Publish(_ context.Context, topic string, _ byte, payload []byte) error {
	c.hub.publish(topic, string(payload))
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.disconnected = true
	own := c.ownSubs
	c.mu.Unlock()

	// Subscriptions die with the session.
	c.hub.mu.Lock()
	remaining := c.hub.subs[:0]
	for _, s := range c.hub.subs {
		kept := true
		for _, o := range own {
			if s == o {
				kept = false
				break
			}
		}
		if kept {
			remaining = append(remaining, s)
		}
	}
	c.hub.subs = remaining
	c.hub.mu.Unlock()
}

var testSettings = Settings{Host: "broker.local", Port: 1883}

func newTestGateway(hub *fakeHub) *Gateway {
	return New(testSettings, WithDialer(hub.dialer()))
}

// ── receive ──────────────────────────────────────────────────────────────────

func TestReceive_DeliversMatchingMessage(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	type outcome struct {
		result *ReceiveResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.Receive(context.Background(), ReceiveRequest{
			Topic:   "sensors/temperature",
			Timeout: 5 * time.Second,
		})
		done <- outcome{res, err}
	}()

	hub.waitSubscribed(t)
	hub.publish("sensors/temperature", "21.5")

	o := <-done
	if o.err != nil {
		t.Fatalf("unexpected error: %v", o.err)
	}
	if o.result.NoMessage {
		t.Fatal("expected a message, got a no-message outcome")
	}
	if o.result.Topic != "sensors/temperature" || o.result.Payload != "21.5" {
		t.Errorf("got (%q, %q), want (sensors/temperature, 21.5)", o.result.Topic, o.result.Payload)
	}
}

func TestReceive_WildcardReportsConcreteTopic(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	done := make(chan *ReceiveResult, 1)
	go func() {
		res, err := g.Receive(context.Background(), ReceiveRequest{
			Topic:   "devices/+/status",
			Timeout: 5 * time.Second,
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- res
	}()

	hub.waitSubscribed(t)
	hub.publish("devices/lamp/status", "on")

	res := <-done
	if res.Topic != "devices/lamp/status" {
		t.Errorf("concrete topic = %q, want devices/lamp/status", res.Topic)
	}
}

func TestReceive_PublishBeforeSubscribeIsNotDelivered(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	// No store-and-forward: this message is gone before anyone subscribes.
	hub.publish("devices/foo", "too early")

	res, err := g.Receive(context.Background(), ReceiveRequest{
		Topic:   "devices/foo",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoMessage {
		t.Fatalf("message published before subscribe must not be delivered, got %q", res.Payload)
	}
}

func TestReceive_TimeoutIsNormalOutcome(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	timeout := 100 * time.Millisecond
	start := time.Now()
	res, err := g.Receive(context.Background(), ReceiveRequest{
		Topic:   "silent/topic",
		Timeout: timeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if !res.NoMessage {
		t.Fatal("expected a no-message outcome")
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v window elapsed", elapsed, timeout)
	}
}

func TestReceive_ConcurrentCallsAreIsolated(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	results := make(chan *ReceiveResult, 2)
	for _, topic := range []string{"room/a", "room/b"} {
		go func() {
			res, err := g.Receive(context.Background(), ReceiveRequest{
				Topic:   topic,
				Timeout: 5 * time.Second,
			})
			if err != nil {
				t.Errorf("receive %q: %v", topic, err)
			}
			results <- res
		}()
	}

	hub.waitSubscribed(t)
	hub.waitSubscribed(t)
	hub.publish("room/a", "alpha")
	hub.publish("room/b", "beta")

	got := map[string]string{}
	for range 2 {
		res := <-results
		got[res.Topic] = res.Payload
	}
	if got["room/a"] != "alpha" || got["room/b"] != "beta" {
		t.Errorf("cross-talk between concurrent receives: %v", got)
	}
}

func TestReceive_InvalidArguments(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	tests := []struct {
		name string
		req  ReceiveRequest
	}{
		{"empty topic", ReceiveRequest{Topic: "", Timeout: time.Second}},
		{"malformed filter", ReceiveRequest{Topic: "a/#/b", Timeout: time.Second}},
		{"zero timeout", ReceiveRequest{Topic: "a", Timeout: 0}},
		{"negative timeout", ReceiveRequest{Topic: "a", Timeout: -time.Second}},
		{"port out of range", ReceiveRequest{Topic: "a", Port: 70000, Timeout: time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Receive(context.Background(), tc.req)
			if !IsInvalidArgument(err) {
				t.Fatalf("want InvalidArgumentError, got %v", err)
			}
		})
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.dialed) != 0 {
		t.Errorf("validation failures must not open connections, dialed %d times", len(hub.dialed))
	}
}

func TestReceive_ContextCancellation(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Receive(ctx, ReceiveRequest{Topic: "a", Timeout: time.Minute})
		done <- err
	}()

	hub.waitSubscribed(t)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	// The session and its subscription must not outlive the call.
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.subs) != 0 {
		t.Errorf("%d orphaned subscriptions after cancellation", len(hub.subs))
	}
}

// ── publish ──────────────────────────────────────────────────────────────────

func TestPublish_Confirmation(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	confirmation, err := g.Publish(context.Background(), PublishRequest{
		Topic:   "devices/foo",
		Message: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(confirmation, "devices/foo") {
		t.Errorf("confirmation %q does not name the topic", confirmation)
	}
	if !strings.Contains(confirmation, "5 bytes") {
		t.Errorf("confirmation %q does not report the payload size", confirmation)
	}
}

func TestPublish_EmptyMessageAllowed(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	if _, err := g.Publish(context.Background(), PublishRequest{Topic: "devices/foo"}); err != nil {
		t.Fatalf("empty payloads are valid, got %v", err)
	}
}

func TestPublish_WildcardTopicRejected(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	_, err := g.Publish(context.Background(), PublishRequest{Topic: "devices/+", Message: "x"})
	if !IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgumentError, got %v", err)
	}
}

func TestPublishThenReceive_RoundTrip(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	done := make(chan *ReceiveResult, 1)
	go func() {
		res, err := g.Receive(context.Background(), ReceiveRequest{
			Topic:   "devices/foo",
			Timeout: 5 * time.Second,
		})
		if err != nil {
			t.Errorf("receive: %v", err)
		}
		done <- res
	}()

	hub.waitSubscribed(t)
	if _, err := g.Publish(context.Background(), PublishRequest{Topic: "devices/foo", Message: "ping"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	res := <-done
	if res.NoMessage || res.Payload != "ping" {
		t.Errorf("round trip failed: %+v", res)
	}
}

// ── parameter resolution ─────────────────────────────────────────────────────

func TestResolution_DefaultsApply(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	if _, err := g.Publish(context.Background(), PublishRequest{Topic: "a", Message: "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	target := hub.lastDialed(t)
	if target.Host != testSettings.Host || target.Port != testSettings.Port {
		t.Errorf("dialed %s, want configured default %s:%d", target.Addr(), testSettings.Host, testSettings.Port)
	}
}

func TestResolution_ExplicitOverrides(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	if _, err := g.Publish(context.Background(), PublishRequest{
		Topic: "a", Message: "x", Host: "other.broker", Port: 1884,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	target := hub.lastDialed(t)
	if target.Host != "other.broker" || target.Port != 1884 {
		t.Errorf("dialed %s, want other.broker:1884", target.Addr())
	}
}

func TestResolution_PartialOverride(t *testing.T) {
	hub := newFakeHub()
	g := newTestGateway(hub)

	if _, err := g.Publish(context.Background(), PublishRequest{
		Topic: "a", Message: "x", Port: 8883,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	target := hub.lastDialed(t)
	if target.Host != testSettings.Host || target.Port != 8883 {
		t.Errorf("dialed %s, want %s:8883", target.Addr(), testSettings.Host)
	}
}

func TestResolution_CredentialsComeFromSettings(t *testing.T) {
	hub := newFakeHub()
	g := New(Settings{Host: "h", Port: 1883, Username: "svc", Password: "secret"},
		WithDialer(hub.dialer()))

	if _, err := g.Publish(context.Background(), PublishRequest{Topic: "a", Message: "x", Host: "other"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	target := hub.lastDialed(t)
	if target.Username != "svc" || target.Password != "secret" {
		t.Errorf("credentials not carried to the target: %+v", target)
	}
}

// ── failure surfacing ────────────────────────────────────────────────────────

func TestUnreachableBroker(t *testing.T) {
	dialErr := &ConnectivityError{Target: "down.broker:1883", Err: errors.New("connection refused")}
	g := New(testSettings, WithDialer(func(context.Context, Target) (Client, error) {
		return nil, dialErr
	}))

	if _, err := g.Publish(context.Background(), PublishRequest{Topic: "a", Message: "x"}); !IsConnectivity(err) {
		t.Errorf("publish to unreachable broker: want ConnectivityError, got %v", err)
	}

	// A receive against an unreachable broker fails, it does not quietly
	// time out.
	_, err := g.Receive(context.Background(), ReceiveRequest{Topic: "a", Timeout: time.Second})
	if !IsConnectivity(err) {
		t.Errorf("receive from unreachable broker: want ConnectivityError, got %v", err)
	}
}

func TestAuthorizationRefusal(t *testing.T) {
	g := New(testSettings, WithDialer(func(_ context.Context, target Target) (Client, error) {
		return nil, &AuthorizationError{Target: target.Addr(), Err: errors.New("not authorised")}
	}))

	_, err := g.Publish(context.Background(), PublishRequest{Topic: "a", Message: "x"})
	if !IsAuthorization(err) {
		t.Fatalf("want AuthorizationError, got %v", err)
	}
	if IsConnectivity(err) {
		t.Error("authorization refusal must not classify as connectivity failure")
	}
}
