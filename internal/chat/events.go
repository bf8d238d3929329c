package chat

import (
	"encoding/json"
	"time"

	"github.com/johndosdos/chatrelay/internal/model"
)

// Inbound is one of the connection events the hub accepts: Join, Send,
// Typing or Disconnect.
type Inbound interface {
	inbound()
}

// Join moves the connection into a room.
type Join struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Send posts a message to the connection's current room.
type Send struct {
	Content string `json:"content"`
}

// Typing toggles the typing indicator of the connection's user.
type Typing struct {
	IsTyping bool `json:"isTyping"`
}

// Disconnect is submitted once the connection is gone.
type Disconnect struct{}

func (Join) inbound()       {}
func (Send) inbound()       {}
func (Typing) inbound()     {}
func (Disconnect) inbound() {}

// Event names as they appear on the wire.
const (
	EventUserJoined     = "userJoined"
	EventRoomUsers      = "roomUsers"
	EventRecentMessages = "recentMessages"
	EventNewMessage     = "newMessage"
	EventUserTyping     = "userTyping"
	EventUserLeft       = "userLeft"
	EventMessageDeleted = "messageDeleted"
	EventError          = "error"
)

// Event is an outbound notification. The concrete types below are the
// complete set.
type Event interface {
	EventName() string
}

// UserJoined tells a room that someone entered it.
type UserJoined struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomUsers lists the members of the room a connection just joined.
type RoomUsers struct {
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}

// RecentMessages is encoded as a bare JSON array.
type RecentMessages struct {
	Messages []model.Message
}

// NewMessage delivers a stored message to its room.
type NewMessage struct {
	Message model.Message
}

// UserTyping reports that a room member started or stopped typing.
type UserTyping struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// UserLeft tells a room that someone disconnected or moved away.
type UserLeft struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeleted tells a room that its author removed a message.
type MessageDeleted struct {
	ID int64 `json:"id"`
}

// Error is sent only to the connection whose event failed.
type Error struct {
	Message string `json:"message"`
}

func (UserJoined) EventName() string     { return EventUserJoined }
func (RoomUsers) EventName() string      { return EventRoomUsers }
func (RecentMessages) EventName() string { return EventRecentMessages }
func (NewMessage) EventName() string     { return EventNewMessage }
func (UserTyping) EventName() string     { return EventUserTyping }
func (UserLeft) EventName() string       { return EventUserLeft }
func (MessageDeleted) EventName() string { return EventMessageDeleted }
func (Error) EventName() string          { return EventError }

// MarshalJSON encodes the messages as an array, never null.
func (e RecentMessages) MarshalJSON() ([]byte, error) {
	if e.Messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Messages)
}

// UnmarshalJSON decodes a bare array of messages.
func (e *RecentMessages) UnmarshalJSON(p []byte) error {
	return json.Unmarshal(p, &e.Messages)
}

// MarshalJSON puts the message fields at the top level of the payload.
func (e NewMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Message)
}

// UnmarshalJSON reads the flat message payload.
func (e *NewMessage) UnmarshalJSON(p []byte) error {
	return json.Unmarshal(p, &e.Message)
}
