package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatrelay/internal/auth"
	"github.com/johndosdos/chatrelay/internal/chat"
	"github.com/johndosdos/chatrelay/internal/model"
)

func TestDecodeInbound(t *testing.T) {
	who := auth.Identity{UserID: "h-1", Username: "handshake"}

	tests := []struct {
		name    string
		frame   string
		want    chat.Inbound
		wantErr error
	}{
		{"join", `{"type":"join","data":{"roomId":"a","userId":"u1","username":"alice"}}`, chat.Join{RoomID: "a", UserID: "u1", Username: "alice"}, nil},
		{"join_alias", `{"type":"joinRoom","data":{"roomId":"a","userId":"u1","username":"alice"}}`, chat.Join{RoomID: "a", UserID: "u1", Username: "alice"}, nil},
		{"join_falls_back_to_handshake", `{"type":"join","data":{"roomId":"a"}}`, chat.Join{RoomID: "a", UserID: "h-1", Username: "handshake"}, nil},
		{"join_without_data", `{"type":"join"}`, chat.Join{UserID: "h-1", Username: "handshake"}, nil},
		{"join_user_id_only", `{"type":"join","data":{"roomId":"a","userId":"u1"}}`, nil, ErrMalformedFrame},
		{"join_username_only", `{"type":"join","data":{"roomId":"a","username":"alice"}}`, nil, ErrMalformedFrame},
		{"send", `{"type":"send","data":{"content":"hi"}}`, chat.Send{Content: "hi"}, nil},
		{"send_alias", `{"type":"sendMessage","data":{"content":"hi"}}`, chat.Send{Content: "hi"}, nil},
		{"typing", `{"type":"typing","data":{"isTyping":true}}`, chat.Typing{IsTyping: true}, nil},
		{"unknown", `{"type":"dance"}`, nil, ErrUnknownFrame},
		{"not_json", `hello`, nil, ErrMalformedFrame},
		{"bad_data", `{"type":"send","data":{"content":42}}`, nil, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.frame), who)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := model.Message{ID: 3, Content: "hi", UserID: "u1", Username: "alice", RoomID: "general", Timestamp: at}

	tests := []struct {
		name string
		ev   chat.Event
		want string
	}{
		{"new_message_is_flat", chat.NewMessage{Message: msg},
			`{"type":"newMessage","data":{"id":3,"content":"hi","userId":"u1","username":"alice","roomId":"general","timestamp":"2026-05-01T12:00:00Z"}}`},
		{"recent_messages_is_an_array", chat.RecentMessages{},
			`{"type":"recentMessages","data":[]}`},
		{"room_users", chat.RoomUsers{RoomID: "general", Users: []string{"alice"}},
			`{"type":"roomUsers","data":{"roomId":"general","users":["alice"]}}`},
		{"message_deleted", chat.MessageDeleted{ID: 9},
			`{"type":"messageDeleted","data":{"id":9}}`},
		{"error", chat.Error{Message: "nope"},
			`{"type":"error","data":{"message":"nope"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := EncodeEvent(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(p))

			var f Frame
			require.NoError(t, json.Unmarshal(p, &f))
			assert.Equal(t, tt.ev.EventName(), f.Type)
		})
	}
}
