// Package ws streams committed staking events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// EventSource yields committed events, e.g. the Redis event bus.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// Filter narrows the events a client receives. Empty fields match anything.
type Filter struct {
	Owner      string   `json:"owner,omitempty"`
	PositionID string   `json:"position_id,omitempty"`
	Types      []string `json:"types,omitempty"`
}

// Match reports whether e passes the filter.
func (f Filter) Match(e domain.Event) bool {
	if f.Owner != "" && f.Owner != e.Owner {
		return false
	}
	if f.PositionID != "" && f.PositionID != e.PositionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if strings.EqualFold(t, string(e.Type)) {
			return true
		}
	}
	return false
}

// filterFromQuery reads ?owner=&position_id=&types=A,B.
func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{Owner: q.Get("owner"), PositionID: q.Get("position_id")}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, t)
		}
	}
	return f
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter Filter
}

func (c *client) matches(e domain.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Match(e)
}

// Hub fans events from one EventSource subscription out to every connected
// client whose filter matches.
type Hub struct {
	source     EventSource
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub over source.
func NewHub(source EventSource, logger *slog.Logger) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to the source and dispatches until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.closeClients()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("total_clients", n))

		case e, ok := <-events:
			if !ok {
				h.logger.Warn("event subscription closed")
				h.closeClients()
				return nil
			}
			h.dispatch(e)
		}
	}
}

// closeClients drops every client and closes its send channel, which ends
// its write pump with a close frame.
func (h *Hub) closeClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) dispatch(e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(e) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", slog.String("event_id", e.ID))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. The initial filter
// comes from the query string; clients may replace it by sending a Filter
// as a JSON text frame.
// GET /ws/events
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: filterFromQuery(r),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies filter updates and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(message, &f); err == nil {
			c.mu.Lock()
			c.filter = f
			c.mu.Unlock()
		}
	}
}

// writePump sends events as JSON text frames and keeps the connection alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
