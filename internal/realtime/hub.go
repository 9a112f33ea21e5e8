// Package realtime pushes fired-alert events to connected users over
// websockets.
//
// The hub tracks connections per user id; Emit delivers an event only to the
// owning user's connections. Slow clients are disconnected rather than
// allowed to block the hub.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the wire envelope for pushed events.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub manages websocket clients and per-user event delivery.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
}

// Client is one connected websocket, bound to a user id.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "realtime_hub"),
	}
}

// Run processes client registration until ctx is done, then closes every
// remaining connection and drains the pumps' unregisters before returning.
// Should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "user", client.userID, "count", count)

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "user", client.userID, "count", count)
		}
	}
}

// shutdown closes every connection and consumes the unregisters their read
// pumps send on the way out, so no pump is left blocked.
func (h *Hub) shutdown() {
	h.mu.Lock()
	remaining := len(h.clients)
	for client := range h.clients {
		client.conn.Close()
	}
	h.mu.Unlock()

	for remaining > 0 {
		client := <-h.unregister
		h.mu.Lock()
		h.dropLocked(client)
		remaining = len(h.clients)
		h.mu.Unlock()
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if set := h.byUser[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.userID)
		}
	}
}

// Emit delivers an event to all of one user's connections. Best effort: a
// client that cannot keep up is dropped.
func (h *Hub) Emit(userID, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.byUser[userID] {
		select {
		case client.send <- data:
		default:
			h.dropLocked(client)
		}
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
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

// readPump consumes (and discards) client messages to drive pong handling.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
		// The push channel is one-way; client messages are ignored.
	}
}

// NewClient registers a connection for a user and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	client := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 64),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
