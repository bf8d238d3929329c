package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/johndosdos/chatrelay/internal/auth"
	"github.com/johndosdos/chatrelay/internal/chat"
)

// Inbound frame types. The camel-cased aliases are accepted for clients
// written against the older event names.
const (
	FrameJoin        = "join"
	FrameJoinRoom    = "joinRoom"
	FrameSend        = "send"
	FrameSendMessage = "sendMessage"
	FrameTyping      = "typing"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Frame is the JSON envelope of every websocket message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent wraps an outbound event in a frame.
func EncodeEvent(ev chat.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}

	return json.Marshal(Frame{Type: ev.EventName(), Data: data})
}

// DecodeInbound parses a client frame. Joins that leave out the user fall
// back to who, the identity established during the handshake. A join naming
// only one of userId and username is rejected.
func DecodeInbound(p []byte, who auth.Identity) (chat.Inbound, error) {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	switch f.Type {
	case FrameJoin, FrameJoinRoom:
		var ev chat.Join
		if err := decodeData(f.Data, &ev); err != nil {
			return nil, err
		}
		switch {
		case ev.UserID == "" && ev.Username == "":
			ev.UserID, ev.Username = who.UserID, who.Username
		case ev.UserID == "" || ev.Username == "":
			return nil, fmt.Errorf("%w: join needs both userId and username", ErrMalformedFrame)
		}
		return ev, nil

	case FrameSend, FrameSendMessage:
		var ev chat.Send
		if err := decodeData(f.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case FrameTyping:
		var ev chat.Typing
		if err := decodeData(f.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return nil
}
