// Package model defines data structure.
package model

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultRoom is used whenever a message or join carries no room.
const DefaultRoom = "general"

// MaxContentLength is the limit, in characters, of sanitized content.
const MaxContentLength = 1000

var (
	// ErrValidation is wrapped by every content or query validation failure.
	ErrValidation = errors.New("validation failed")

	ErrEmptyContent   = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrContentTooLong = fmt.Errorf("%w: message too long (max %d characters)", ErrValidation, MaxContentLength)
	ErrMissingAuthor  = fmt.Errorf("%w: message author is required", ErrValidation)
)

// Message holds information about a single chat message. Values are never
// mutated after the store hands them out.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type sanitizer interface {
	Sanitize(s string) string
}

// StrictPolicy drops every tag and the body of script/style elements.
var policy sanitizer = bluemonday.StrictPolicy()

// maxDecodeRounds bounds how many layers of entity encoding Sanitize peels.
const maxDecodeRounds = 8

// Sanitize strips markup from s and returns the remaining plain text.
// Entity-encoded markup is decoded and stripped as well, so the result never
// turns back into tags.
func Sanitize(s string) string {
	// bluemonday escapes the text it keeps; content is stored as plain text.
	for range maxDecodeRounds {
		next := html.UnescapeString(policy.Sanitize(s))
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
	// Still decoding: keep the escaped form rather than risk live markup.
	return strings.TrimSpace(policy.Sanitize(s))
}

// NewMessage sanitizes and validates content and returns a message without
// an id; ids and timestamps are assigned by the store.
func NewMessage(content, userID, username, roomID string, at time.Time) (Message, error) {
	if userID == "" || username == "" {
		return Message{}, ErrMissingAuthor
	}

	clean := Sanitize(content)
	if clean == "" {
		return Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(clean) > MaxContentLength {
		return Message{}, ErrContentTooLong
	}

	if roomID == "" {
		roomID = DefaultRoom
	}

	return Message{
		Content:   clean,
		UserID:    userID,
		Username:  username,
		RoomID:    roomID,
		Timestamp: at,
	}, nil
}
