package worker

import (
	"context"
	"time"

	"github.com/johndosdos/chatrelay/internal/broker"
	"github.com/johndosdos/chatrelay/internal/provider"
)

// Acknowledger answers inbound gateway messages. *provider.Client
// implements it.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ev provider.WebhookEvent, delay time.Duration, text string) error
}

// Acknowledge returns a job that replies to ev once it reaches a worker.
func Acknowledge(a Acknowledger, ev provider.WebhookEvent, delay time.Duration, text string) broker.Job {
	return broker.Job{
		Name: "acknowledge:" + ev.Payload.From,
		Run: func(ctx context.Context) error {
			return a.Acknowledge(ctx, ev, delay, text)
		},
	}
}
