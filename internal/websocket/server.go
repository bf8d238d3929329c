package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/chatrelay/internal/chat"
)

const disconnectTimeout = 5 * time.Second

// Dispatcher accepts connection events. *chat.Hub implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, ev chat.Inbound) error
}

// ReadMessage reads the incoming frames from the websocket stream and
// hands them to d until the connection goes away. The client is
// unregistered and a Disconnect is dispatched on the way out.
func (c *Client) ReadMessage(ctx context.Context, d Dispatcher) {
	defer func() {
		c.transport.Unregister(c)

		// The disconnect must reach the hub even when ctx is what ended the read.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		if err := d.Dispatch(dctx, c.ID, chat.Disconnect{}); err != nil && !errors.Is(err, chat.ErrHubStopped) {
			c.log.Error("failed to dispatch disconnect", "error", err)
		}

		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				c.log.Warn("read failed", "error", err, "status", status)
			}
			return
		}

		// The app only supports text format.
		if msgType != websocket.MessageText {
			continue
		}

		ev, err := DecodeInbound(p, c.Identity)
		if err != nil {
			c.log.Debug("rejected frame", "error", err)
			c.transport.Emit(c.ID, chat.Error{Message: err.Error()})
			continue
		}

		switch ev.(type) {
		case chat.Send:
			if !allow(c.messageLim) {
				c.transport.Emit(c.ID, chat.Error{Message: "rate limit exceeded, slow down"})
				continue
			}
		case chat.Typing:
			if !allow(c.typingLim) {
				continue
			}
		}

		if err := d.Dispatch(ctx, c.ID, ev); err != nil {
			c.log.Info("stopped reading", "error", err)
			return
		}
	}
}
