package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/monitoring"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// LiveMessage is one websocket frame on /ws/live.
type LiveMessage struct {
	RunID      string                  `json:"run_id"`
	Record     aggregate.FrameRecord   `json:"record"`
	Violations []engine.ViolationEvent `json:"violations,omitempty"`
	Stats      engine.FrameStats       `json:"stats"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine results out to websocket subscribers. It implements
// engine.Sink so a session can publish to it directly. Slow clients drop
// messages rather than stall the run.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	dropped int
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for full client buffers.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Handle publishes one frame result.
func (h *Hub) Handle(_ context.Context, res engine.FrameResult) error {
	msg, err := json.Marshal(LiveMessage{
		RunID:      res.RunID,
		Record:     res.Record,
		Violations: res.Violations,
		Stats:      res.Stats,
	})
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	var dropped int
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.mu.Lock()
		h.dropped += dropped
		h.mu.Unlock()
	}
}

// ServeHTTP upgrades the connection and streams messages until the client
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	monitoring.Logf("live client connected from %s (%d total)", r.RemoteAddr, n)

	go h.writeLoop(c)

	// Reads only detect the close; subscribers send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			monitoring.Logf("live client write error: %v", err)
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
