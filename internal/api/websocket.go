package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-mesh/internal/auth"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// Message types on the event stream.
const (
	WSTypeSubscribe = "subscribe"
	WSTypePing      = "ping"
	WSTypePong      = "pong"
	WSTypeEvent     = "event"
	WSTypeResponse  = "response"
	WSTypeError     = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a frame sent to or from a stream client.
// Event is set on WSTypeEvent frames; Payload carries request and reply bodies.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   *mesh.Event     `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSFilter selects the lifecycle events a client receives.
// An empty Events list matches every kind; an empty Devices list matches
// every device. A subscribe message replaces the previous filter.
type WSFilter struct {
	Events  []mesh.EventKind `json:"events"`
	Devices []mesh.EUI64     `json:"devices"`
}

// eventFilter is the compiled form of WSFilter.
type eventFilter struct {
	kinds   map[mesh.EventKind]struct{}
	devices map[mesh.EUI64]struct{}
}

func newEventFilter(f WSFilter) *eventFilter {
	ef := &eventFilter{}
	if len(f.Events) > 0 {
		ef.kinds = make(map[mesh.EventKind]struct{}, len(f.Events))
		for _, k := range f.Events {
			ef.kinds[k] = struct{}{}
		}
	}
	if len(f.Devices) > 0 {
		ef.devices = make(map[mesh.EUI64]struct{}, len(f.Devices))
		for _, d := range f.Devices {
			ef.devices[d] = struct{}{}
		}
	}
	return ef
}

func (f *eventFilter) match(ev mesh.Event) bool {
	if f.kinds != nil {
		if _, ok := f.kinds[ev.Kind]; !ok {
			return false
		}
	}
	if f.devices != nil {
		if _, ok := f.devices[ev.Device.IEEE]; !ok {
			return false
		}
	}
	return true
}

// Hub fans coordinator lifecycle events out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected stream client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string // token subject, for logs

	mu     sync.RWMutex
	filter *eventFilter // nil until the first subscribe
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Callers authenticate with a token; origin is not checked
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// Attach subscribes the hub to every coordinator lifecycle event.
func (h *Hub) Attach(events *mesh.Broadcaster) mesh.SubscriptionID {
	return events.Subscribe(h.Handle)
}

// Handle delivers one lifecycle event to every client whose filter matches.
//
// It runs on the coordinator's dispatch path: the frame is marshalled once
// and queued without blocking; slow clients miss events.
func (h *Hub) Handle(ev mesh.Event) error {
	data, err := json.Marshal(WSMessage{Type: WSTypeEvent, Event: &ev})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.wants(ev) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("lifecycle event streamed", "kind", ev.Kind.String(), "recipients", sent)
	}
	return nil
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Browsers cannot set headers on the upgrade, so the bearer token travels in
// the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}
	if !auth.HasPermission(claims.Role, auth.PermDeviceRead) {
		writeForbidden(w, "requires "+string(auth.PermDeviceRead))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		subject: claims.Subject,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Any client frame counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// writePump writes queued frames and keepalive pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe replaces the client's filter. Unknown event kinds or
// malformed identities reject the whole request and keep the old filter.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	var f WSFilter
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			c.replyError(msg.ID, "invalid subscribe payload: "+err.Error())
			return
		}
	}

	c.mu.Lock()
	c.filter = newEventFilter(f)
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"subject", c.subject, "events", len(f.Events), "devices", len(f.Devices))

	c.reply(msg.ID, WSTypeResponse, f)
}

// wants reports whether ev passes the client's filter.
func (c *WSClient) wants(ev mesh.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter != nil && c.filter.match(ev)
}

// trySend queues data without blocking. Full buffers drop the frame; a
// channel closed by a concurrent disconnect is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	msg := WSMessage{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
