package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "meshcore-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

// pendingToken never completes.
func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	subscribeErr error
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token { return newToken(nil) }

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	b, _ := payload.([]byte)
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	f.mu.Unlock()
	return newToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return newToken(f.subscribeErr)
	}
	f.handlers[topic] = callback
	return newToken(nil)
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	f.mu.Unlock()
	return newToken(nil)
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for topic with a message.
func (f *fakePaho) deliver(subscribed, topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[subscribed]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(f, fakeMessage{topic: topic, payload: payload})
	return true
}

func (f *fakePaho) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (fakeMessage) Duplicate() bool       { return false }
func (fakeMessage) Qos() byte             { return 1 }
func (fakeMessage) Retained() bool        { return false }
func (m fakeMessage) Topic() string       { return m.topic }
func (fakeMessage) MessageID() uint16     { return 1 }
func (m fakeMessage) Payload() []byte     { return m.payload }
func (fakeMessage) Ack()                  {}

// newTestClient returns a Client wired to a fake paho client.
func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.setConnected(true)
	return c, fake
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
	warns  []string
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := newClient(testConfig())
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestClosePublishesOfflineStatus(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected {
		t.Error("Close() did not disconnect")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	msgs := fake.publishedTo(Topics{}.CoreStatus())
	if len(msgs) != 1 {
		t.Fatalf("status messages = %d, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("status message should be retained")
	}

	var status statusMessage
	if err := json.Unmarshal(msgs[0].payload, &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status.Status != statusOffline || status.Reason != reasonShutdown {
		t.Errorf("status = %+v, want offline/%s", status, reasonShutdown)
	}
	if status.ClientID != "meshcore-test" {
		t.Errorf("ClientID = %q", status.ClientID)
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	fake.Disconnect(0)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	c := newClient(testConfig())
	if c.IsConnected() {
		t.Error("IsConnected() = true for new client")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, fake := newTestClient(t)
	topic := Topics{}.BridgeRequest("radio0", "abc")

	if err := c.Publish(topic, []byte{0xa1}, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := fake.publishedTo(topic)
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	if msgs[0].qos != 1 || msgs[0].retained {
		t.Errorf("published = %+v", msgs[0])
	}
}

func TestPublishDefaultUsesConfiguredQoS(t *testing.T) {
	c, fake := newTestClient(t)
	topic := Topics{}.CoreEvent("device_joined")

	if err := c.PublishDefault(topic, []byte("{}")); err != nil {
		t.Fatalf("PublishDefault() error = %v", err)
	}
	msgs := fake.publishedTo(topic)
	if len(msgs) != 1 || msgs[0].qos != 1 || msgs[0].retained {
		t.Errorf("published = %+v", msgs)
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/mesh/test", nil, 3, ErrInvalidQoS},
		{"oversized payload", "graylogic/mesh/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	c, _ := newTestClient(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	c, fake := newTestClient(t)
	fake.Disconnect(0)

	if err := c.Publish("graylogic/mesh/test", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeAndDeliver(t *testing.T) {
	c, fake := newTestClient(t)
	pattern := Topics{}.BridgeEvents("radio0")

	var got []string
	err := c.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		got = append(got, LastSegment(topic)+"="+string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(pattern) || c.SubscriptionCount() != 1 {
		t.Fatalf("subscription not tracked")
	}

	fake.deliver(pattern, Topics{}.BridgeEvent("radio0", "join"), []byte("x"))
	if len(got) != 1 || got[0] != "join=x" {
		t.Errorf("handler got %v", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, _ := newTestClient(t)
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
}

func TestSubscribeFailureIsNotTracked(t *testing.T) {
	c, fake := newTestClient(t)
	fake.subscribeErr = errors.New("not authorised")

	err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if c.HasSubscription("a/b") {
		t.Error("failed subscription should not be tracked")
	}
}

func TestUnsubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{"a/1", "a/2"} {
		if err := c.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if err := c.Unsubscribe("a/1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription("a/1") || c.SubscriptionCount() != 1 {
		t.Errorf("after unsubscribe count = %d", c.SubscriptionCount())
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestReconnectRestoresSubscriptionsAndStatus(t *testing.T) {
	c, fake := newTestClient(t)
	handler := func(string, []byte) error { return nil }
	if err := c.Subscribe("a/1", 1, handler); err != nil {
		t.Fatal(err)
	}

	var connects int
	c.SetOnConnect(func() { connects++ })

	// Simulate the broker forgetting the session.
	fake.mu.Lock()
	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	fake.mu.Unlock()

	c.handleConnect()

	if !fake.deliver("a/1", "a/1", nil) {
		t.Error("subscription was not restored on reconnect")
	}
	if connects != 1 {
		t.Errorf("onConnect called %d times, want 1", connects)
	}

	msgs := fake.publishedTo(Topics{}.CoreStatus())
	if len(msgs) != 1 {
		t.Fatalf("status messages = %d, want 1", len(msgs))
	}
	if !strings.Contains(string(msgs[0].payload), `"status":"online"`) {
		t.Errorf("status payload = %s", msgs[0].payload)
	}
}

func TestOnDisconnectCallback(t *testing.T) {
	c, _ := newTestClient(t)
	logger := &mockLogger{}
	c.SetLogger(logger)

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })

	lost := errors.New("connection reset")
	c.handleDisconnect(lost)

	if !errors.Is(gotErr, lost) {
		t.Errorf("onDisconnect err = %v", gotErr)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestHandlerErrorsAndPanicsAreLogged(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &mockLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("a/err", 1, func(string, []byte) error { return errors.New("bad") }); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe("a/panic", 1, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatal(err)
	}

	fake.deliver("a/err", "a/err", nil)
	fake.deliver("a/panic", "a/panic", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want 1", logger.errors)
	}
}

// =============================================================================
// Options and Topics
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	r := pahomqtt.NewOptionsReader(opts)

	servers := r.Servers()
	if len(servers) != 1 || servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers() = %v", servers)
	}
	if r.Username() != "core" || r.Password() != "secret" {
		t.Error("credentials not set")
	}
	if !r.AutoReconnect() {
		t.Error("AutoReconnect() = false")
	}
	if r.MaxReconnectInterval() != 5*time.Second {
		t.Errorf("MaxReconnectInterval() = %v", r.MaxReconnectInterval())
	}
	if r.TLSConfig() == nil || r.TLSConfig().MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	if err := configureLWT(opts, "meshcore"); err != nil {
		t.Fatalf("configureLWT() error = %v", err)
	}
	r := pahomqtt.NewOptionsReader(opts)

	statusTopic := Topics{}.CoreStatus()
	if !r.WillEnabled() || r.WillTopic() != statusTopic || !r.WillRetained() {
		t.Errorf("will = %v %q retained=%v", r.WillEnabled(), r.WillTopic(), r.WillRetained())
	}
	if !strings.Contains(string(r.WillPayload()), reasonUnexpected) {
		t.Errorf("will payload = %s", r.WillPayload())
	}
}

func TestWaitTokenTimeout(t *testing.T) {
	err := waitToken(context.Background(), pendingToken(), 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("waitToken() error = %v, want ErrTimeout", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitToken(ctx, pendingToken(), time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("waitToken(cancelled) error = %v", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BridgeRequest", topics.BridgeRequest("radio0", "id1"), "graylogic/mesh/radio0/request/id1"},
		{"BridgeResponse", topics.BridgeResponse("radio0", "id1"), "graylogic/mesh/radio0/response/id1"},
		{"BridgeEvent", topics.BridgeEvent("radio0", "join"), "graylogic/mesh/radio0/event/join"},
		{"BridgeResponses", topics.BridgeResponses("radio0"), "graylogic/mesh/radio0/response/+"},
		{"BridgeEvents", topics.BridgeEvents("radio0"), "graylogic/mesh/radio0/event/+"},
		{"CoreEvent", topics.CoreEvent("device_left"), "graylogic/mesh/core/event/device_left"},
		{"CoreStatus", topics.CoreStatus(), "graylogic/mesh/core/status"},
		{"AllCoreEvents", topics.AllCoreEvents(), "graylogic/mesh/core/event/+"},
		{"AllTopics", topics.AllTopics(), "graylogic/mesh/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLastSegment(t *testing.T) {
	if got := LastSegment("graylogic/mesh/radio0/response/abc"); got != "abc" {
		t.Errorf("LastSegment() = %q", got)
	}
	if got := LastSegment("plain"); got != "plain" {
		t.Errorf("LastSegment(plain) = %q", got)
	}
}
