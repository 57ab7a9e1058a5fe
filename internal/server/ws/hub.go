package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayBatch is how many stream entries one read returns, and
	// replayLimit caps a single catch-up.
	replayBatch = 100
	replayLimit = 1000

	// replayWait bounds a catch-up, including delivery to the client.
	replayWait = 10 * time.Second
)

// allEvents subscribes a client to every event type.
const allEvents = "*"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are checked by the CORS middleware.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	events map[string]bool // subscribed event types
	users  map[string]bool // optional username filter
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its
// subscription, e.g. {"action":"subscribe","events":["transaction_committed"],"users":["marcus254"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
	Users  []string `json:"users"`
}

// Hub manages a set of connected WebSocket clients and broadcasts ledger
// events to the clients subscribed to them. Events arrive either from a
// SignalBus subscription or directly through Publish.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	pattern    string
	stream     string
	mu         sync.RWMutex
	logger     *slog.Logger
	storage    string
	startedAt  time.Time
}

// broadcastMsg carries an encoded event along with the decoded fields used
// for routing.
type broadcastMsg struct {
	evt  domain.Event
	data []byte
}

// Config captures runtime metadata used in the status message sent to
// WebSocket clients on connect.
type Config struct {
	// Pattern is the bus channel pattern carrying events. Ignored when the
	// hub has no bus.
	Pattern   string
	// Stream is the durable event stream replayed for ?since= catch-up.
	// Ignored when the hub has no bus.
	Stream    string
	Storage   string
	StartedAt time.Time
}

// NewHub creates a new WebSocket hub. bus may be nil, in which case events
// must be fed through Publish.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		pattern:    cfg.Pattern,
		stream:     cfg.Stream,
		logger:     logger.With(slog.String("component", "ws_hub")),
		storage:    cfg.Storage,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting. The loop exits when the
// provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.pattern != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(msg.evt) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements domain.EventPublisher for in-process delivery.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{evt: evt, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe forwards events from the bus pattern to the broadcast channel.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.pattern)
	if err != nil {
		h.logger.Error("failed to subscribe to events",
			slog.String("pattern", h.pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed to events", slog.String("pattern", h.pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("event subscription closed", slog.String("pattern", h.pattern))
				return
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("skipping undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{evt: evt, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Query parameters events and users seed the
// subscription; by default a client receives every event. With since, the
// events stored after that stream id ("0" for the oldest) are sent first,
// followed by a replay_done message carrying the last id replayed.
// GET /ws?events=transaction_committed&users=marcus254&since=0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: make(map[string]bool),
		users:  make(map[string]bool),
	}
	q := r.URL.Query()
	c.handleSubscription(subscribeMsg{Action: "subscribe", Events: q["events"], Users: q["users"]})
	if len(c.events) == 0 {
		c.events[allEvents] = true
	}

	c.sendInitialStatus()
	go c.writePump()

	// The catch-up runs before registration so c.send has a single producer
	// until the hub takes over.
	if since := q.Get("since"); since != "" {
		ctx, cancel := context.WithTimeout(r.Context(), replayWait)
		h.replay(ctx, c, since)
		cancel()
	}

	h.register <- c
	go c.readPump()
}

// replay sends the client every stored event after since that it wants.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	last, sent := since, 0
	var replayErr error
	if h.bus == nil || h.stream == "" {
		replayErr = errors.New("event history is not available")
	}
	for read := 0; replayErr == nil && read < replayLimit; {
		msgs, err := h.bus.StreamRead(ctx, h.stream, last, replayBatch)
		if err != nil {
			replayErr = err
			break
		}
		for _, m := range msgs {
			last = m.ID
			read++
			var evt domain.Event
			if err := json.Unmarshal(m.Payload, &evt); err != nil || !c.wants(evt) {
				continue
			}
			select {
			case c.send <- m.Payload:
				sent++
			case <-ctx.Done():
				replayErr = ctx.Err()
			}
			if replayErr != nil {
				break
			}
		}
		if len(msgs) < replayBatch {
			break
		}
	}

	payload := map[string]any{"last_id": last, "count": sent}
	if replayErr != nil {
		h.logger.Warn("event replay incomplete",
			slog.String("since", since),
			slog.String("error", replayErr.Error()),
		)
		payload["error"] = replayErr.Error()
	}
	msg, err := json.Marshal(map[string]any{"type": "replay_done", "payload": payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, e := range msg.Events {
			c.events[e] = true
		}
		for _, u := range msg.Users {
			c.users[u] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.events, e)
		}
		for _, u := range msg.Users {
			delete(c.users, u)
		}
	}
}

// wants reports whether evt matches the client's event types and, when a
// username filter is set, names one of its users.
func (c *client) wants(evt domain.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.events[allEvents] && !c.events[string(evt.Type)] {
		return false
	}
	if len(c.users) == 0 {
		return true
	}
	for _, u := range evt.Usernames {
		if c.users[u] {
			return true
		}
	}
	return false
}

// sendInitialStatus pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no events are flowing yet.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"storage":        c.hub.storage,
			"bus":            c.hub.bus != nil,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domain.EventPublisher = (*Hub)(nil)
