package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/dispatch"
)

// Audience decides which sockets receive broadcasts
type Audience interface {
	IsAuthenticated(id model.HandleID) bool
}

// Hub tracks live sockets and delivers outbound events to them
type Hub struct {
	mu       sync.RWMutex
	conns    map[model.HandleID]*connection
	audience Audience
	logger   *slog.Logger
}

var _ dispatch.Sink = (*Hub)(nil)

// NewHub creates an empty Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[model.HandleID]*connection),
		logger: logger.With(slog.String("component", "ws")),
	}
}

// SetAudience limits broadcasts to sockets the audience admits.
// Without one every live socket receives them.
func (h *Hub) SetAudience(a Audience) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audience = a
}

func (h *Hub) add(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) remove(id model.HandleID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Count returns the number of live sockets
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// EmitToAll sends an event to every live socket the audience admits
func (h *Hub) EmitToAll(event model.EventType, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast",
			slog.String("event", string(event)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	audience := h.audience
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent, dropped := 0, 0
	for _, c := range targets {
		if audience != nil && !audience.IsAuthenticated(c.id) {
			continue
		}
		if h.deliver(c, data) {
			sent++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("broadcast partial failure",
			slog.String("event", string(event)),
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
}

// EmitToOne sends an event to a single socket; unknown handles are ignored
func (h *Hub) EmitToOne(id model.HandleID, event model.EventType, payload any) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("event", string(event)),
			slog.String("handle", string(id)),
			slog.String("error", err.Error()))
		return
	}
	h.deliver(c, data)
}

// Close tears down the socket behind id
func (h *Hub) Close(id model.HandleID) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if ok {
		c.shutdown(websocket.ClosePolicyViolation, "authentication required")
	}
}

// Shutdown closes every socket, for server shutdown
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

// deliver queues data, closing a socket whose buffer has filled up
func (h *Hub) deliver(c *connection, data []byte) bool {
	if c.enqueue(data) {
		return true
	}
	select {
	case <-c.done:
	default:
		h.logger.Warn("send buffer full, closing connection", slog.String("handle", string(c.id)))
		c.shutdown(websocket.CloseTryAgainLater, "too slow")
	}
	return false
}
