package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatrelay/internal/auth"
	"github.com/johndosdos/chatrelay/internal/chat"
)

func newTestTransport(opts ...Option) *Transport {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewTransport(opts...)
}

func TestTransportEmit(t *testing.T) {
	tr := newTestTransport(WithSendBuffer(2))
	c := tr.NewClient(nil, auth.Identity{UserID: "u1", Username: "alice"})
	tr.Register(c)
	require.Equal(t, 1, tr.Len())

	tr.Emit(c.ID, chat.Error{Message: "one"})
	tr.Emit(c.ID, chat.Error{Message: "two"})
	// The queue holds two frames; the third is dropped.
	tr.Emit(c.ID, chat.Error{Message: "three"})
	// Unknown connections are ignored.
	tr.Emit("missing", chat.Error{Message: "lost"})

	require.Len(t, c.send, 2)
	var f Frame
	require.NoError(t, json.Unmarshal(<-c.send, &f))
	assert.Equal(t, chat.EventError, f.Type)
	assert.JSONEq(t, `{"message":"one"}`, string(f.Data))

	tr.Unregister(c)
	tr.Unregister(c)
	assert.Zero(t, tr.Len())

	// The queue is closed once the remaining frame is read.
	<-c.send
	_, ok := <-c.send
	assert.False(t, ok)

	// Emitting after unregistering must not panic.
	tr.Emit(c.ID, chat.Error{Message: "late"})
}

func TestTransportLimits(t *testing.T) {
	tr := newTestTransport(WithLimits(Limits{Messages: 2, Typing: 1, Window: 1 << 40}))
	c := tr.NewClient(nil, auth.Identity{})

	assert.True(t, allow(c.messageLim))
	assert.True(t, allow(c.messageLim))
	assert.False(t, allow(c.messageLim))
	assert.True(t, allow(c.typingLim))
	assert.False(t, allow(c.typingLim))

	unlimited := newTestTransport().NewClient(nil, auth.Identity{})
	assert.Nil(t, unlimited.messageLim)
	assert.True(t, allow(unlimited.messageLim))
}

func TestTransportConcurrentEmit(t *testing.T) {
	tr := newTestTransport(WithSendBuffer(1024))
	clients := make([]*Client, 4)
	for i := range clients {
		clients[i] = tr.NewClient(nil, auth.Identity{})
		tr.Register(clients[i])
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				tr.Emit(c.ID, chat.UserTyping{Username: "x", IsTyping: true})
			}
		}()
		go func() {
			defer wg.Done()
			tr.Unregister(c)
		}()
	}
	wg.Wait()

	assert.Zero(t, tr.Len())
}
