package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/dispatch"
)

// MaxClients caps concurrent execution stream subscribers
const MaxClients = 64

// ExecutionEvent is one message on the execution stream
type ExecutionEvent struct {
	Type      string          `json:"type"`
	Result    dispatch.Result `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub fans execution results out to websocket clients. It implements
// dispatch.EventSink.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	dropped atomic.Int64
}

// NewHub creates an empty hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  log.Named("stream"),
		clients: make(map[*Client]struct{}),
	}
}

// Publish queues res for every client without blocking. Slow clients lose
// the message.
func (h *Hub) Publish(res dispatch.Result) {
	msg := ExecutionEvent{Type: "execution", Result: res, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
			h.logger.Debugw("Dropped execution event for slow client", "client_id", c.id, "call_id", res.CallID)
		}
	}
}

// ClientCount is the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped is the number of events not delivered to slow clients
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeWS upgrades the request and subscribes the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= MaxClients
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		http.Error(w, "too many stream clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Infow("Stream client connected", "client_id", c.id, "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Infow("Stream client disconnected", "client_id", c.id, "clients", len(h.clients))
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
