package console

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 256
)

// Message is the envelope of everything pushed to the browser
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out messages to the connected websocket clients. A client that
// cannot keep up is dropped.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	count      chan chan int
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger, options ...func(*Hub)) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:     logger,
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// Run serves the hub until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("websocket client connected", "client", c.id, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client disconnected", "client", c.id, "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("dropping slow websocket client", "client", c.id)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Broadcast queues a message for every client. It never blocks; messages are
// dropped while the queue is full.
func (h *Hub) Broadcast(messageType string, data any) {
	p, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		h.logger.Error("encoding websocket message", "type", messageType, "error", err)
		return
	}

	select {
	case h.broadcast <- p:
	default:
		h.logger.Debug("websocket broadcast queue full", "type", messageType)
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

// WithOriginCheck sets the function accepting websocket origins. The default
// accepts only the host the request was sent to.
func WithOriginCheck(fn func(r *http.Request) bool) func(*Hub) {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// ServeWS upgrades the request and registers the connection. initial
// messages are written before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial ...Message) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	for _, m := range initial {
		p, err := json.Marshal(m)
		if err != nil {
			continue
		}
		c.send <- p
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writer()
	go c.reader()
}

func (c *client) writer() {
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

// reader discards client input and detects closed connections
func (c *client) reader() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
