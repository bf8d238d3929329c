package provider

import (
	"context"
	"fmt"
	"time"
)

// WebhookEvent is the part of an inbound gateway notification needed to
// acknowledge it.
type WebhookEvent struct {
	Event   string         `json:"event"`
	Session string         `json:"session" validate:"required"`
	Payload WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	ID   string `json:"id"`
	From string `json:"from" validate:"required"`
	Body string `json:"body"`
}

// Acknowledge marks the message as seen, shows a typing indicator for delay
// and then replies with text.
func (c *Client) Acknowledge(ctx context.Context, ev WebhookEvent, delay time.Duration, text string) error {
	chatID, session := ev.Payload.From, ev.Session

	if _, err := c.SendSeen(ctx, chatID, ev.Payload.ID, session, ""); err != nil {
		return fmt.Errorf("acknowledge: send seen: %w", err)
	}
	if err := c.StartTyping(ctx, chatID, session); err != nil {
		return fmt.Errorf("acknowledge: start typing: %w", err)
	}

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	if err := c.StopTyping(ctx, chatID, session); err != nil {
		return fmt.Errorf("acknowledge: stop typing: %w", err)
	}
	if _, err := c.SendText(ctx, chatID, text, session); err != nil {
		return fmt.Errorf("acknowledge: send text: %w", err)
	}

	c.log.InfoContext(ctx, "acknowledged inbound message",
		"chat_id", chatID,
		"session", session,
		"message_id", ev.Payload.ID)
	return nil
}
