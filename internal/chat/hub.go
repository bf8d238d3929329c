// Package chat routes connection events to rooms. All events go through a
// single goroutine, so presence and history changes made for one event are
// complete before the next event is looked at.
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johndosdos/chatrelay/internal/model"
	"github.com/johndosdos/chatrelay/internal/presence"
	"github.com/johndosdos/chatrelay/internal/store"
)

// DefaultRecentMessages is how much history a joining connection receives.
const DefaultRecentMessages = 50

// ErrHubStopped is returned when an event is submitted after Run returned.
var ErrHubStopped = errors.New("hub is not running")

// Emitter delivers an event to one connection. Emit must not block.
type Emitter interface {
	Emit(connID string, ev Event)
}

type envelope struct {
	connID string
	event  Inbound

	// Set for room announcements instead of connID/event.
	roomID string
	notice Event

	done chan struct{}
}

// Hub contains functions needed for the app state management.
type Hub struct {
	store    *store.Store
	presence *presence.Registry
	emitter  Emitter
	log      *slog.Logger
	now      func() time.Time
	recent   int
	events   chan envelope
	stopped  chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithRecentMessages sets how many messages are replayed on join.
func WithRecentMessages(n int) Option {
	return func(h *Hub) { h.recent = n }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub returns a new instance of Hub.
func NewHub(st *store.Store, reg *presence.Registry, em Emitter, opts ...Option) *Hub {
	h := &Hub{
		store:    st,
		presence: reg,
		emitter:  em,
		log:      slog.Default(),
		now:      time.Now,
		recent:   DefaultRecentMessages,
		events:   make(chan envelope),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes events until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case env := <-h.events:
			h.handle(env)
			close(env.done)

		case <-ctx.Done():
			h.log.Info("hub stopped", "reason", ctx.Err())
			return
		}
	}
}

// Dispatch submits a connection event and waits until it has been handled,
// including every emission it causes.
func (h *Hub) Dispatch(ctx context.Context, connID string, ev Inbound) error {
	return h.submit(ctx, envelope{connID: connID, event: ev, done: make(chan struct{})})
}

// Announce sends ev to every connection currently in roomID.
func (h *Hub) Announce(ctx context.Context, roomID string, ev Event) error {
	return h.submit(ctx, envelope{roomID: roomID, notice: ev, done: make(chan struct{})})
}

func (h *Hub) submit(ctx context.Context, env envelope) error {
	select {
	case h.events <- env:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Run handles every envelope it receives before it can stop.
	<-env.done
	return nil
}

func (h *Hub) handle(env envelope) {
	if env.notice != nil {
		h.broadcast(h.presence.Connections(env.roomID), "", env.notice)
		return
	}

	switch ev := env.event.(type) {
	case Join:
		h.join(env.connID, ev)
	case Send:
		h.send(env.connID, ev)
	case Typing:
		h.typing(env.connID, ev)
	case Disconnect:
		h.disconnect(env.connID)
	default:
		h.log.Warn("unknown event", "conn_id", env.connID, "type", fmt.Sprintf("%T", ev))
	}
}

func (h *Hub) join(connID string, ev Join) {
	roomID := cmp.Or(ev.RoomID, model.DefaultRoom)
	members, prev, moved := h.presence.Join(connID, ev.UserID, ev.Username, roomID)

	if moved {
		h.broadcast(h.presence.Connections(prev.RoomID), connID, h.userLeft(prev.Username))
	}

	h.broadcast(h.presence.Connections(roomID), connID, UserJoined{
		Username:  ev.Username,
		Message:   ev.Username + " joined the room",
		Timestamp: h.now().UTC(),
	})
	h.emitter.Emit(connID, RoomUsers{RoomID: roomID, Users: members})
	h.emitter.Emit(connID, RecentMessages{Messages: h.store.GetByRoom(roomID, h.recent, 0)})

	h.log.Info("user joined room",
		"username", ev.Username,
		"room_id", roomID,
		"conn_id", connID)
}

func (h *Hub) send(connID string, ev Send) {
	entry, ok := h.presence.Get(connID)
	if !ok {
		h.emitter.Emit(connID, Error{Message: "user not identified, join a room first"})
		return
	}

	msg, err := h.store.Create(ev.Content, entry.UserID, entry.Username, entry.RoomID)
	if err != nil {
		h.log.Warn("message rejected",
			"error", err,
			"username", entry.Username,
			"room_id", entry.RoomID)
		h.emitter.Emit(connID, Error{Message: err.Error()})
		return
	}

	h.broadcast(h.presence.Connections(entry.RoomID), "", NewMessage{Message: msg})
}

func (h *Hub) typing(connID string, ev Typing) {
	entry, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	h.broadcast(h.presence.Connections(entry.RoomID), connID, UserTyping{
		Username: entry.Username,
		IsTyping: ev.IsTyping,
	})
}

func (h *Hub) disconnect(connID string) {
	entry, ok := h.presence.Leave(connID)
	if !ok {
		return
	}

	h.broadcast(h.presence.Connections(entry.RoomID), connID, h.userLeft(entry.Username))
	h.log.Info("user left room",
		"username", entry.Username,
		"room_id", entry.RoomID,
		"conn_id", connID)
}

func (h *Hub) userLeft(username string) UserLeft {
	return UserLeft{
		Username:  username,
		Message:   username + " left the room",
		Timestamp: h.now().UTC(),
	}
}

// broadcast emits ev to conns, skipping except.
func (h *Hub) broadcast(conns []string, except string, ev Event) {
	for _, id := range conns {
		if id == except {
			continue
		}
		h.emitter.Emit(id, ev)
	}
}
