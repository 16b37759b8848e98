package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"firestige.xyz/textcast/internal/event"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/metrics"
)

const clientSendBuffer = 64

// typeSnapshot tags the state message every client receives on
// subscribe, ahead of the live events.
const typeSnapshot event.Type = "snapshot"

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	close(c.send)
}

// Hub fans the event stream out to WebSocket subscribers. It implements
// event.Publisher and rides the same fanout as the other sinks; a
// subscriber that cannot keep up is disconnected rather than allowed to
// stall the broadcast.
type Hub struct {
	logger log.Logger

	// snapshot builds the state message sent to a fresh subscriber.
	snapshot func() any
	// allowOrigin guards the upgrade; the server installs its CORS
	// origin policy here.
	allowOrigin func(r *http.Request) bool

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates an empty hub. snapshot may be nil when there is no
// state worth sending on subscribe.
func NewHub(snapshot func() any) *Hub {
	return &Hub{
		logger:      log.GetLogger(),
		snapshot:    snapshot,
		allowOrigin: func(*http.Request) bool { return true },
		clients:     make(map[*wsClient]bool),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish broadcasts one event to every subscriber. Slow subscribers
// are dropped; that is not a publish failure.
func (h *Hub) Publish(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) Flush(ctx context.Context) error { return nil }

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: h.allowOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("ws upgrade failed")
		return
	}

	client := newWSClient(conn)
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	metrics.WSClients.Inc()
	h.logger.Infof("ws client connected: %s", r.RemoteAddr)

	if h.snapshot != nil {
		if data, err := json.Marshal(event.New(typeSnapshot, "", h.snapshot())); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}

	// Reader discards incoming frames; its error is the disconnect
	// signal.
	go func() {
		defer h.remove(client, r.RemoteAddr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(c *wsClient, addr string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	if ok {
		metrics.WSClients.Dec()
		h.logger.Infof("ws client disconnected: %s", addr)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws client too slow, disconnecting")
			h.remove(c, "slow client")
		}
	}
}

// closeAll drops every subscriber, used on server shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
		metrics.WSClients.Dec()
	}
	h.mu.Unlock()
}
