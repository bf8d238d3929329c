package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/chatrelay/internal/auth"
)

type Client struct {
	ID         string
	Identity   auth.Identity
	conn       *websocket.Conn
	transport  *Transport
	send       chan []byte
	messageLim *rate.Limiter
	typingLim  *rate.Limiter
	log        *slog.Logger
}

// NewClient wraps an accepted connection under a fresh connection id. The
// client is not reachable until it is registered.
func (t *Transport) NewClient(conn *websocket.Conn, identity auth.Identity) *Client {
	c := &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, t.buffer),
	}
	c.log = t.log.With("conn_id", c.ID)

	if t.limits.Messages > 0 {
		c.SetMessageLimiter(t.limits.Messages, t.limits.Window)
	}
	if t.limits.Typing > 0 {
		c.SetTypingLimiter(t.limits.Typing, t.limits.Window)
	}

	return c
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.messageLim = l
}

func (c *Client) SetTypingLimiter(requests int, window time.Duration) {
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.typingLim = l
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}

// WriteMessage writes queued frames to the outgoing websocket stream and
// keeps the connection alive with pings. It returns once the send queue is
// closed, a write fails, or ctx is done.
func (c *Client) WriteMessage(ctx context.Context) {
	ticker := time.NewTicker(c.transport.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-c.send:
			// We don't want to continue processing when the channel has already been
			// closed.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "connection closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, c.transport.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, p)
			cancel()
			if err != nil {
				c.log.WarnContext(ctx, "failed to write frame",
					"error", err,
					"username", c.Identity.Username)
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.transport.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.InfoContext(ctx, "ping failed, dropping connection",
					"error", err)
				c.conn.CloseNow()
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}
