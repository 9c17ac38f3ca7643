package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// Bridge operation constants.
const (
	// defaultRequestTimeout bounds a request when neither the caller nor the
	// options give one.
	defaultRequestTimeout = 5 * time.Second

	// networkTimeout bounds startup and network formation, which scan channels.
	networkTimeout = 60 * time.Second

	// interviewRequestTimeout bounds the daemon's acknowledgement of an
	// interview; the interview itself reports back through events.
	interviewRequestTimeout = 10 * time.Second
)

// Bridge implements mesh.Transport and mesh.Initializer on top of a radio
// daemon reached over MQTT.
//
// Outbound commands are published as CBOR RequestMessages and correlated with
// their ResponseMessage by a UUID carried in the topic. Unsolicited network
// events are decoded and handed to the Coordinator.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID       string
	mqtt           MQTTClient
	coord          Coordinator
	qos            byte
	requestTimeout time.Duration
	newID          func() string

	pending   map[string]chan ResponseMessage
	pendingMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Coordinator receives decoded network events. *mesh.Coordinator satisfies it.
type Coordinator interface {
	HandleJoin(nwk mesh.NWK, ieee mesh.EUI64, parent mesh.NWK)
	HandleLeave(nwk mesh.NWK, ieee mesh.EUI64)
	AddUpdateDeviceFromNetwork(nwk mesh.NWK, ieee mesh.EUI64) mesh.DeviceInfo
	InitializationStarted(ieee mesh.EUI64) error
	DeviceInitialized(ieee mesh.EUI64) error
	InitializationFailed(ieee mesh.EUI64, cause error) error
	SetLocalAddress(ieee mesh.EUI64, nwk mesh.NWK)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID selects the daemon's topic namespace (graylogic/mesh/{id}/...).
	BridgeID string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Coordinator receives network events.
	Coordinator Coordinator

	// QoS for requests. Default: 1.
	QoS byte

	// RequestTimeout applies when a request carries no timeout. Default: 5s.
	RequestTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if opts.QoS == 0 {
		opts.QoS = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		bridgeID:       opts.BridgeID,
		mqtt:           opts.MQTTClient,
		coord:          opts.Coordinator,
		qos:            opts.QoS,
		requestTimeout: opts.RequestTimeout,
		newID:          uuid.NewString,
		pending:        make(map[string]chan ResponseMessage),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}, nil
}

// Start subscribes to the daemon's response and event topics.
func (b *Bridge) Start(_ context.Context) error {
	topics := mqtt.Topics{}

	responseTopic := topics.BridgeResponses(b.bridgeID)
	if err := b.mqtt.Subscribe(responseTopic, b.qos, b.handleResponse); err != nil {
		return fmt.Errorf("subscribe to responses: %w", err)
	}

	eventTopic := topics.BridgeEvents(b.bridgeID)
	if err := b.mqtt.Subscribe(eventTopic, b.qos, b.handleEvent); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}

	b.logInfo("radio bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop aborts pending requests and waits for in-flight interviews to return.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logInfo("radio bridge stopped", "bridge_id", b.bridgeID)
	})
}

// PendingCount returns the number of requests awaiting a response.
func (b *Bridge) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// =============================================================================
// mesh.Transport
// =============================================================================

// Startup implements mesh.Transport.
func (b *Bridge) Startup(ctx context.Context, autoForm bool) error {
	_, err := b.roundTrip(ctx, CommandStartup, StartupParams{AutoForm: autoForm}, networkTimeout)
	return err
}

// FormNetwork implements mesh.Transport.
func (b *Bridge) FormNetwork(ctx context.Context, params mesh.NetworkParams) error {
	p := FormNetworkParams{Channel: params.Channel, PANID: params.PANID}
	if params.ExtendedPANID != (mesh.EUI64{}) {
		p.ExtendedPANID = params.ExtendedPANID.String()
	}
	_, err := b.roundTrip(ctx, CommandFormNetwork, p, networkTimeout)
	return err
}

// Request implements mesh.Transport.
func (b *Bridge) Request(ctx context.Context, req mesh.Request) (mesh.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.requestTimeout
	}

	resp, err := b.roundTrip(ctx, CommandRequest, SendParams{
		NWK:         uint16(req.NWK),
		Profile:     req.Profile,
		Cluster:     req.Cluster,
		SrcEndpoint: req.SrcEndpoint,
		DstEndpoint: req.DstEndpoint,
		Sequence:    req.Sequence,
		Data:        req.Data,
		ExpectReply: req.ExpectReply,
	}, timeout)
	if err != nil {
		return mesh.Response{}, err
	}
	return mesh.Response{Status: resp.Status, Data: resp.Data}, nil
}

// Permit implements mesh.Transport.
func (b *Bridge) Permit(ctx context.Context, duration time.Duration) error {
	_, err := b.roundTrip(ctx, CommandPermit, PermitParams{DurationSeconds: durationSeconds(duration)}, b.requestTimeout)
	return err
}

// PermitWithKey implements mesh.Transport.
func (b *Bridge) PermitWithKey(ctx context.Context, node mesh.EUI64, code []byte, duration time.Duration) error {
	_, err := b.roundTrip(ctx, CommandPermitWithKey, PermitParams{
		DurationSeconds: durationSeconds(duration),
		Node:            node.String(),
		InstallCode:     code,
	}, b.requestTimeout)
	return err
}

// ForceRemove implements mesh.Transport.
func (b *Bridge) ForceRemove(ctx context.Context, ieee mesh.EUI64) error {
	_, err := b.roundTrip(ctx, CommandForceRemove, DeviceParams{IEEE: ieee.String()}, b.requestTimeout)
	return err
}

// =============================================================================
// mesh.Initializer
// =============================================================================

// ScheduleInitialize implements mesh.Initializer. It asks the daemon to
// interview the device without blocking. The outcome arrives as
// interview_started, interviewed or interview_failed events; a request the
// daemon refuses is reported to the coordinator as a failed initialization.
func (b *Bridge) ScheduleInitialize(ieee mesh.EUI64) {
	select {
	case <-b.done:
		b.failInitialization(ieee, ErrBridgeStopped)
		return
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		_, err := b.roundTrip(b.ctx, CommandInterview, DeviceParams{IEEE: ieee.String()}, interviewRequestTimeout)
		if err != nil {
			b.failInitialization(ieee, err)
		}
	}()
}

func (b *Bridge) failInitialization(ieee mesh.EUI64, cause error) {
	b.logWarn("device interview could not be started", "ieee", ieee.String(), "error", cause)
	if err := b.coord.InitializationFailed(ieee, cause); err != nil {
		b.logDebug("initialization failure for unknown device", "ieee", ieee.String(), "error", err)
	}
}

// =============================================================================
// Request/response correlation
// =============================================================================

// roundTrip publishes a request and waits for the matching response.
//
// Send failures, timeouts and daemon-reported failures are wrapped in
// mesh.ErrTransportFailure; a not_implemented reply maps to
// mesh.ErrNotImplemented.
func (b *Bridge) roundTrip(ctx context.Context, cmd Command, params any, timeout time.Duration) (ResponseMessage, error) {
	if !b.mqtt.IsConnected() {
		return ResponseMessage{}, fmt.Errorf("%w: %s: %w", mesh.ErrTransportFailure, cmd, ErrNotConnected)
	}

	id := b.newID()
	msg, err := NewRequestMessage(id, cmd, params)
	if err != nil {
		return ResponseMessage{}, err
	}
	payload, err := Encode(msg)
	if err != nil {
		return ResponseMessage{}, fmt.Errorf("encoding %s request: %w", cmd, err)
	}

	ch := make(chan ResponseMessage, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer b.forget(id)

	if err := b.mqtt.Publish(mqtt.Topics{}.BridgeRequest(b.bridgeID, id), payload, b.qos, false); err != nil {
		return ResponseMessage{}, fmt.Errorf("%w: publishing %s: %w", mesh.ErrTransportFailure, cmd, err)
	}
	b.logDebug("radio request sent", "command", string(cmd), "id", id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, responseError(cmd, resp)
	case <-timer.C:
		return ResponseMessage{}, fmt.Errorf("%w: %s %s: %w after %v", mesh.ErrTransportFailure, cmd, id, ErrTimeout, timeout)
	case <-ctx.Done():
		return ResponseMessage{}, fmt.Errorf("%w: %s: %w", mesh.ErrTransportFailure, cmd, ctx.Err())
	case <-b.done:
		return ResponseMessage{}, fmt.Errorf("%w: %s: %w", mesh.ErrTransportFailure, cmd, ErrBridgeStopped)
	}
}

func responseError(cmd Command, resp ResponseMessage) error {
	if resp.OK {
		return nil
	}
	if resp.Code == CodeNotImplemented {
		return fmt.Errorf("%s: %w", cmd, mesh.ErrNotImplemented)
	}
	return fmt.Errorf("%w: %w: %s: %s %s", mesh.ErrTransportFailure, ErrCommandFailed, cmd, resp.Code, resp.Message)
}

func (b *Bridge) forget(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

// handleResponse routes a response to the waiting request. The topic's last
// level is authoritative for correlation.
func (b *Bridge) handleResponse(topic string, payload []byte) {
	id := mqtt.LastSegment(topic)

	var resp ResponseMessage
	if err := Decode(payload, &resp); err != nil {
		b.logWarn("dropping undecodable response", "topic", topic, "error", err)
		return
	}
	if resp.ID != "" && resp.ID != id {
		b.logWarn("response id does not match topic", "topic", topic, "id", resp.ID)
	}

	b.pendingMu.Lock()
	ch, ok := b.pending[id]
	delete(b.pending, id)
	b.pendingMu.Unlock()

	if !ok {
		b.logDebug("late or unknown response", "id", id)
		return
	}
	ch <- resp
}

// =============================================================================
// Network events
// =============================================================================

// handleEvent decodes a daemon event and applies it to the coordinator.
func (b *Bridge) handleEvent(topic string, payload []byte) {
	kind := mqtt.LastSegment(topic)
	if err := b.applyEvent(kind, payload); err != nil {
		b.logWarn("radio event rejected", "kind", kind, "error", err)
	}
}

func (b *Bridge) applyEvent(kind string, payload []byte) error {
	var ev EventMessage
	if err := Decode(payload, &ev); err != nil {
		return err
	}

	ieee, err := mesh.ParseEUI64(ev.IEEE)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	nwk := mesh.NWK(ev.NWK)

	switch kind {
	case EventJoin:
		b.coord.HandleJoin(nwk, ieee, mesh.NWK(ev.Parent))
	case EventLeave:
		b.coord.HandleLeave(nwk, ieee)
	case EventDeviceSeen:
		b.coord.AddUpdateDeviceFromNetwork(nwk, ieee)
	case EventInterviewStarted:
		return b.coord.InitializationStarted(ieee)
	case EventInterviewed:
		return b.coord.DeviceInitialized(ieee)
	case EventInterviewFailed:
		cause := ErrInterviewFailed
		if ev.Reason != "" {
			cause = fmt.Errorf("%w: %s", ErrInterviewFailed, ev.Reason)
		}
		return b.coord.InitializationFailed(ieee, cause)
	case EventNetworkUp:
		b.coord.SetLocalAddress(ieee, nwk)
		b.logInfo("radio network up", "ieee", ieee.String(), "nwk", nwk.String())
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidMessage, kind)
	}
	return nil
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
