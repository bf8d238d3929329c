// Package store keeps the in-memory message history, partitioned by room.
package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/johndosdos/chatrelay/internal/model"
)

var (
	// ErrNotFound is returned for unknown ids and for deletes by someone
	// other than the author; callers cannot tell the two apart.
	ErrNotFound = errors.New("message not found or permission denied")

	ErrEmptyQuery = fmt.Errorf("%w: search query is required", model.ErrValidation)
)

// Stats summarizes the history of a single room.
type Stats struct {
	TotalMessages     int            `json:"totalMessages"`
	ActiveUsers       int            `json:"activeUsers"`
	UserMessageCounts map[string]int `json:"userMessageCounts"`
	LastMessage       *time.Time     `json:"lastMessage"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithHistoryLimit caps the number of messages kept per room. The oldest
// messages are evicted first. Zero keeps everything.
func WithHistoryLimit(n int) Option {
	return func(s *Store) { s.historyLimit = max(n, 0) }
}

// Store is an append-only message log with per-room and per-user indices.
// Index slices hold ids in ascending order, which is also timestamp order.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	last         time.Time
	messages     map[int64]model.Message
	byRoom       map[string][]int64
	byUser       map[string][]int64
	historyLimit int
	now          func() time.Time
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		nextID:   1,
		messages: make(map[int64]model.Message),
		byRoom:   make(map[string][]int64),
		byUser:   make(map[string][]int64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create sanitizes and validates content, assigns the next id and appends
// the message to its room.
func (s *Store) Create(content, userID, username, roomID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Never let a clock step move a message before its predecessor.
	at := s.now().UTC()
	if at.Before(s.last) {
		at = s.last
	}

	msg, err := model.NewMessage(content, userID, username, roomID, at)
	if err != nil {
		return model.Message{}, err
	}

	msg.ID = s.nextID
	s.nextID++
	s.last = at

	s.messages[msg.ID] = msg
	s.byRoom[msg.RoomID] = append(s.byRoom[msg.RoomID], msg.ID)
	s.byUser[msg.UserID] = append(s.byUser[msg.UserID], msg.ID)

	if s.historyLimit > 0 {
		for len(s.byRoom[msg.RoomID]) > s.historyLimit {
			s.removeLocked(s.messages[s.byRoom[msg.RoomID][0]])
		}
	}

	return msg, nil
}

// GetByRoom returns up to limit messages of a room in chronological order,
// after skipping the offset most recent ones.
func (s *Store) GetByRoom(roomID string, limit, offset int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRoom[roomID]
	offset = max(offset, 0)
	if limit <= 0 || offset >= len(ids) {
		return []model.Message{}
	}

	end := len(ids) - offset
	start := max(end-limit, 0)
	return s.collectLocked(ids[start:end])
}

// FindByID reports whether a message with the given id exists.
func (s *Store) FindByID(id int64) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	return msg, ok
}

// Delete removes a message if userID authored it and returns the removed
// message.
func (s *Store) Delete(id int64, userID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.UserID != userID {
		return model.Message{}, ErrNotFound
	}

	s.removeLocked(msg)
	return msg, nil
}

// GetByUser returns the most recent messages of a user, newest first.
func (s *Store) GetByUser(userID string, limit int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	if limit <= 0 {
		return []model.Message{}
	}

	out := s.collectLocked(ids[max(len(ids)-limit, 0):])
	slices.Reverse(out)
	return out
}

// Search matches query case-insensitively against the content of a room's
// messages, newest first.
func (s *Store) Search(query, roomID string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	ids := s.byRoom[roomID]
	out := []model.Message{}
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[ids[i]]
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Stats returns message counts for a room.
func (s *Store) Stats(roomID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.collectLocked(s.byRoom[roomID])
	counts := lo.CountValuesBy(msgs, func(m model.Message) string { return m.Username })

	stats := Stats{
		TotalMessages:     len(msgs),
		ActiveUsers:       len(counts),
		UserMessageCounts: counts,
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].Timestamp
		stats.LastMessage = &last
	}
	return stats
}

// Len returns the number of stored messages across all rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

func (s *Store) collectLocked(ids []int64) []model.Message {
	return lo.Map(ids, func(id int64, _ int) model.Message { return s.messages[id] })
}

func (s *Store) removeLocked(msg model.Message) {
	delete(s.messages, msg.ID)
	s.byRoom[msg.RoomID] = removeID(s.byRoom[msg.RoomID], msg.ID)
	if len(s.byRoom[msg.RoomID]) == 0 {
		delete(s.byRoom, msg.RoomID)
	}
	s.byUser[msg.UserID] = removeID(s.byUser[msg.UserID], msg.ID)
	if len(s.byUser[msg.UserID]) == 0 {
		delete(s.byUser, msg.UserID)
	}
}

func removeID(ids []int64, id int64) []int64 {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
