// Package websocket broadcasts the view-model output to dashboard clients so
// the UI layer only subscribes; it never recomputes fleet state itself.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Message is the envelope sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one connected dashboard.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub maintains the connected clients and fans state updates out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	getState func() interface{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub builds a hub; getState supplies the initial payload for new clients.
func NewHub(getState func() interface{}) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		getState: getState,
		done:     make(chan struct{}),
	}
}

// Stop disconnects all clients. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Unlock()
	})
}

// BroadcastState sends the latest view-model state to every client. Slow
// clients are dropped rather than allowed to stall the cycle.
func (h *Hub) BroadcastState(state interface{}) {
	payload, err := json.Marshal(Message{Type: "state", Data: state})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			log.Warn().Str("client", client.id).Msg("Dropping slow WebSocket client")
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	log.Info().Str("client", client.id).Msg("WebSocket client connected")

	// Seed the new client with current state so it renders immediately.
	if h.getState != nil {
		if payload, err := json.Marshal(Message{Type: "state", Data: h.getState()}); err == nil {
			client.send <- payload
		}
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	log.Info().Str("client", client.id).Msg("WebSocket client disconnected")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.hub.done:
			return
		}
	}
}

// readPump drains the connection so pings are answered and closes are seen.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
