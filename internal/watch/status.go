package watch

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaymem/syncengine/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType identifies a kind of status event broadcast to local dashboard
// clients. This is a development/observability surface only; no sync
// decision ever depends on whether a client is listening.
type EventType string

const (
	EventFactSyncTick    EventType = "fact_sync_tick"
	EventConversationSync EventType = "conversation_sync"
)

// StatusEvent is a single broadcast message.
type StatusEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// StatusHub fans out Loop tick events to any number of local WebSocket
// dashboard clients. It is purely observational: never starting it, or
// having no clients, has no effect on sync correctness.
type StatusHub struct {
	clients    map[*statusClient]bool
	broadcast  chan *StatusEvent
	register   chan *statusClient
	unregister chan *statusClient
	log        *logging.Logger
	mu         sync.RWMutex
}

type statusClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *StatusHub
}

// NewStatusHub constructs an idle hub; call Run in its own goroutine to
// start fanning out events.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*statusClient]bool),
		broadcast:  make(chan *StatusEvent, 256),
		register:   make(chan *statusClient),
		unregister: make(chan *statusClient),
		log:        logging.Default().Component("watch-status"),
	}
}

// Run is the hub's event loop. It never returns, so the caller runs it in
// its own goroutine.
func (h *StatusHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("status client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("status client disconnected", "clients", len(h.clients))

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal status event", "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.log.Warn("status client send buffer full, dropping event for client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues an event for delivery to every connected client.
// Non-blocking: if the broadcast channel is saturated the event is dropped.
func (h *StatusHub) Broadcast(eventType EventType, data interface{}) {
	event := &StatusEvent{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("status broadcast channel full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades an HTTP request to a WebSocket status stream.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("status websocket upgrade failed", "error", err)
		return
	}

	client := &statusClient{conn: conn, send: make(chan []byte, 256), hub: h}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *statusClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *statusClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
