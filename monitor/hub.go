// Package monitor streams live training metrics to WebSocket clients, so a
// browser dashboard can follow a run as it progresses.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"medtrain/training"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 16
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The monitor serves local dashboards; origin checks are left to any
	// fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type message struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected WebSocket clients and broadcasts training events to
// them. It implements training.MetricSink; slow clients are disconnected
// rather than allowed to stall the run.
type Hub struct {
	logger *zap.Logger

	mutex     sync.Mutex
	clients   map[*client]struct{}
	register  chan *client
	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:    logger,
		clients:   make(map[*client]struct{}),
		register:  make(chan *client),
		broadcast: make(chan []byte, clientBacklog),
		done:      make(chan struct{}),
	}
}

// Run processes client registration and broadcasts until ctx is cancelled,
// then closes every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			h.mutex.Unlock()
		case data := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Client is not keeping up.
					delete(h.clients, c)
					close(c.send)
					c.conn.Close()
				}
			}
			h.mutex.Unlock()
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket connection and attaches it
// to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// writePump drains the client's send queue until it is closed or a write
// fails.
func (h *Hub) writePump(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
}

// readPump discards inbound messages; the monitor is broadcast-only. It
// exists to notice closed connections promptly.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

// OnEpoch broadcasts an epoch event to all connected clients.
func (h *Hub) OnEpoch(ctx context.Context, event training.EpochEvent) error {
	return h.send(ctx, message{Kind: "epoch", Payload: event})
}

// OnTest broadcasts the final test metrics.
func (h *Hub) OnTest(ctx context.Context, event training.TestEvent) error {
	return h.send(ctx, message{Kind: "test", Payload: event})
}

func (h *Hub) send(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		// Broadcast backlog full; drop rather than stall training.
		h.logger.Debug("monitor broadcast dropped", zap.String("kind", msg.Kind))
		return nil
	}
}
