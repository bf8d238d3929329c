package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/johndosdos/chatrelay/internal/chat"
)

const (
	defaultSendBuffer   = 64
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Limits bounds how fast a single connection may send and signal typing.
// A zero count disables that limiter.
type Limits struct {
	Messages int
	Typing   int
	Window   time.Duration
}

// Option configures a Transport.
type Option func(*Transport)

func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithSendBuffer sets how many frames may queue per connection before new
// ones are dropped.
func WithSendBuffer(n int) Option {
	return func(t *Transport) { t.buffer = max(n, 1) }
}

func WithPingInterval(d time.Duration) Option {
	return func(t *Transport) { t.pingInterval = d }
}

func WithLimits(l Limits) Option {
	return func(t *Transport) { t.limits = l }
}

// Transport keeps the live websocket clients by connection id and delivers
// hub events to them.
type Transport struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	log          *slog.Logger
	buffer       int
	pingInterval time.Duration
	writeTimeout time.Duration
	limits       Limits
}

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		clients:      make(map[string]*Client),
		log:          slog.Default(),
		buffer:       defaultSendBuffer,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register makes c reachable through Emit.
func (t *Transport) Register(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c.transport = t
	t.clients[c.ID] = c
}

// Unregister removes c and closes its send queue. Calling it more than once
// is safe.
func (t *Transport) Unregister(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.clients[c.ID]; !ok || cur != c {
		return
	}
	delete(t.clients, c.ID)
	close(c.send)
}

// Emit queues ev for connID. Events for unknown connections are discarded,
// and so are events for clients whose queue is full.
func (t *Transport) Emit(connID string, ev chat.Event) {
	p, err := EncodeEvent(ev)
	if err != nil {
		t.log.Error("failed to encode event",
			"error", err,
			"conn_id", connID)
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.clients[connID]
	if !ok {
		return
	}

	select {
	case c.send <- p:
	default:
		t.log.Warn("skipping event - channel full or client slow",
			"conn_id", connID,
			"event", ev.EventName())
	}
}

// Len returns the number of registered clients.
func (t *Transport) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.clients)
}
