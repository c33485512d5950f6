package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mcoot/tilerush/internal/model"
)

// EventHandler is the session layer a socket feeds into
type EventHandler interface {
	OnConnect(ctx context.Context, id model.HandleID) error
	Handle(ctx context.Context, id model.HandleID, event model.EventType, payload json.RawMessage) error
	OnDisconnect(ctx context.Context, id model.HandleID)
}

// Handler upgrades HTTP requests and runs one read loop per socket
type Handler struct {
	hub      *Hub
	events   EventHandler
	upgrader websocket.Upgrader
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates a websocket handler feeding events into the session layer
func NewHandler(hub *Hub, events EventHandler, logger *slog.Logger, cfg Config) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		hub:    hub,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the connection and blocks until the socket closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := newConnection(model.HandleID(uuid.NewString()), conn, h.cfg)
	h.hub.add(c)
	if err := h.events.OnConnect(ctx, c.id); err != nil {
		h.logger.Error("failed to attach connection",
			slog.String("handle", string(c.id)),
			slog.String("error", err.Error()))
		h.hub.remove(c.id)
		c.shutdown(websocket.CloseInternalServerErr, "unavailable")
		c.writePump()
		return
	}

	go c.writePump()
	h.readLoop(ctx, c, r.RemoteAddr)

	h.events.OnDisconnect(ctx, c.id)
	h.hub.remove(c.id)
	c.shutdown(websocket.CloseNormalClosure, "")
}

// readLoop hands frames to the session layer one at a time, so events from
// one socket are never dispatched concurrently
func (h *Handler) readLoop(ctx context.Context, c *connection, remoteAddr string) {
	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	flood := rate.NewLimiter(rate.Limit(h.cfg.FloodRate), h.cfg.FloodBurst)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed",
					slog.String("handle", string(c.id)),
					slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if !flood.Allow() {
			h.logger.Warn("websocket flood, closing connection",
				slog.String("handle", string(c.id)),
				slog.String("remote_addr", remoteAddr),
				slog.Bool("security", true))
			c.shutdown(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.hub.EmitToOne(c.id, model.EventRejected, model.RejectedPayload{Reason: "malformed message"})
			continue
		}

		if err := h.events.Handle(ctx, c.id, env.Type, env.Payload); err != nil {
			if errors.Is(err, model.ErrHandleNotFound) {
				return
			}
			h.logger.Debug("event not applied",
				slog.String("handle", string(c.id)),
				slog.String("event", string(env.Type)),
				slog.String("error", err.Error()))
		}
	}
}
