package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	sendBuffer   = 8
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
)

// Hub pushes JSON payloads to every connected websocket client. A client that
// falls behind by more than its buffer is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	log      log.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Option func(*Hub)

// WithCheckOrigin overrides the origin check; the default accepts any origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func WithLogger(l log.FieldLogger) Option { return func(h *Hub) { h.log = l } }

func NewHub(options ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.StandardLogger(),
		clients: make(map[*client]struct{}),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams payloads until the client goes
// away. New clients first receive the most recent payload, if any.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.log.WithField("clients", len(h.clients)).Debug("websocket client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked removes c and ends its write pump. h.mu must be held.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// readPump drains inbound frames so control messages are processed, and
// unregisters the client once the connection fails.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast encodes v as JSON and queues it for every client. The payload is
// kept and replayed to clients that connect later.
func (h *Hub) Broadcast(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode broadcast")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("websocket client too slow, disconnecting")
			h.dropLocked(c)
		}
	}
	return nil
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	var err error
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		err = multierr.Append(err, c.conn.SetReadDeadline(time.Now()))
	}
	return err
}
