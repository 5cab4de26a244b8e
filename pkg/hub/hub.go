package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

// Hub maintains the set of operator clients and broadcasts to them.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	handler Handler

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a hub. name tags its log lines.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnMessage sets the handler for inbound commands. Commands from different
// clients may arrive concurrently.
func (h *Hub) OnMessage(fn Handler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

// Run is the hub's main loop. It returns when ctx is cancelled, after
// closing every client.
func (h *Hub) Run(ctx context.Context) error {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("operator connected", "client", c.id, "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("operator disconnected", "client", c.id, "clients", count)

		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
					h.sent.Add(1)
				default:
					// Too slow to keep up
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow operator", "client", c.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(clientID string, msg *protocol.Message) {
	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()

	if fn == nil {
		h.logger.Warn("no command handler set", "type", msg.Type)
		return
	}
	fn(clientID, msg)
}

// Broadcast queues pre-encoded data for every client. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// Report implements protocol.Reporter. Nothing is encoded while no operator
// is connected.
func (h *Hub) Report(msgType protocol.MessageType, data interface{}) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		h.logger.Error("failed to encode telemetry", "type", msgType, "error", err)
		return
	}
	b, err := msg.Bytes()
	if err != nil {
		h.logger.Error("failed to encode telemetry", "type", msgType, "error", err)
		return
	}
	h.Broadcast(b)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub loop is running.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats returns how many messages were delivered to client queues and how
// many were dropped because the broadcast queue was full.
func (h *Hub) Stats() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}
