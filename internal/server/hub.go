package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Message is the JSON pushed to websocket clients and returned by /status.
type Message struct {
	Label      string    `json:"label"`
	Text       string    `json:"text"`
	Reason     string    `json:"reason,omitempty"`
	FrameIndex int       `json:"frame"`
	At         time.Time `json:"at"`
}

// NewMessage converts an observer update.
func NewMessage(u observer.Update) Message {
	return Message{
		Label:      u.Label.Key(),
		Text:       u.Label.String(),
		Reason:     u.Reason(),
		FrameIndex: u.FrameIndex,
		At:         u.At,
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts every gaze label to connected websocket clients.
// A client that falls behind misses messages instead of slowing the processor.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	sent, dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// OnGazeLabel implements observer.Observer.
func (h *Hub) OnGazeLabel(u observer.Update) {
	data, err := json.Marshal(NewMessage(u))
	if err != nil {
		log.Error(log.Fields{"error": err.Error()}, "[Hub.OnGazeLabel] failed to encode message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Counts returns messages queued and dropped across all clients.
func (h *Hub) Counts() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}

// ServeWS upgrades the request and streams labels until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn(log.Fields{"remote": r.RemoteAddr, "error": err.Error()}, "[Hub.ServeWS] upgrade failed")
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
	count := len(h.clients)
	h.mu.Unlock()

	log.Info(log.Fields{"remote": r.RemoteAddr, "clients": count}, "[Hub.ServeWS] client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and returns once the connection drops.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove unregisters c and closes its send queue, which stops writeLoop.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	log.Debug(log.Fields{"clients": len(h.clients)}, "[Hub.remove] client disconnected")
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
