package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/tilerush/internal/model"
)

// closeFrame is the close code and reason written before the socket goes away
type closeFrame struct {
	code   int
	reason string
}

// connection is one upgraded socket. Only writePump writes to conn.
type connection struct {
	id   model.HandleID
	conn *websocket.Conn
	send chan []byte
	cfg  Config

	closeOnce sync.Once
	done      chan struct{}
	frame     closeFrame
}

func newConnection(id model.HandleID, conn *websocket.Conn, cfg Config) *connection {
	return &connection{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, cfg.SendBuffer),
		cfg:   cfg,
		done:  make(chan struct{}),
		frame: closeFrame{code: websocket.CloseNormalClosure},
	}
}

// enqueue queues a frame without blocking. It reports false when the
// buffer is full or the connection is shutting down.
func (c *connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown asks the write pump to send a close frame and drop the socket
func (c *connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.frame = closeFrame{code: code, reason: reason}
		close(c.done)
	})
}

// writePump drains the send buffer and keeps the peer alive with pings
func (c *connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(c.frame.code, c.frame.reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// flush writes whatever was queued before shutdown
func (c *connection) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
