// Package presence tracks which connection is in which room, and as whom.
package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Entry is the identity and current room of one live connection.
type Entry struct {
	ConnID   string `json:"connectionId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// RoomDetail lists the members of one room.
type RoomDetail struct {
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// Stats is a point-in-time snapshot of the registry.
type Stats struct {
	ConnectedUsers int                   `json:"connectedUsers"`
	ActiveRooms    int                   `json:"activeRooms"`
	RoomDetails    map[string]RoomDetail `json:"roomDetails"`
}

// Registry maps connections to rooms and rooms to their connections. A
// connection is in at most one room; rooms without connections are removed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Entry
	rooms map[string][]string // connection ids in join order
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Entry),
		rooms: make(map[string][]string),
	}
}

// Join places a connection in roomID, leaving its previous room if it was in
// a different one. It returns the usernames now in roomID and, when the
// connection moved, its previous entry.
func (r *Registry) Join(connID, userID, username, roomID string) (members []string, prev Entry, moved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.conns[connID]
	if ok && old.RoomID != roomID {
		r.removeLocked(old)
		prev, moved = old, true
	}
	// Re-joining the same room keeps the join position.
	if !ok || moved {
		r.rooms[roomID] = append(r.rooms[roomID], connID)
	}

	r.conns[connID] = Entry{ConnID: connID, UserID: userID, Username: username, RoomID: roomID}
	return r.usernamesLocked(roomID), prev, moved
}

// Leave removes a connection. Leaving twice is a no-op; ok reports whether
// the connection was present.
func (r *Registry) Leave(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	r.removeLocked(entry)
	delete(r.conns, connID)
	return entry, true
}

// Get returns the entry of a connection.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	return entry, ok
}

// RoomMembers returns the distinct usernames in a room, in join order.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.usernamesLocked(roomID)
}

// Connections returns the ids of the connections in a room, in join order.
func (r *Registry) Connections(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.rooms[roomID])
}

// Stats returns a snapshot of connection and room counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	details := make(map[string]RoomDetail, len(r.rooms))
	for roomID := range r.rooms {
		users := r.usernamesLocked(roomID)
		details[roomID] = RoomDetail{UserCount: len(users), Users: users}
	}

	return Stats{
		ConnectedUsers: len(r.conns),
		ActiveRooms:    len(r.rooms),
		RoomDetails:    details,
	}
}

func (r *Registry) usernamesLocked(roomID string) []string {
	names := lo.Map(r.rooms[roomID], func(connID string, _ int) string {
		return r.conns[connID].Username
	})
	return lo.Uniq(names)
}

func (r *Registry) removeLocked(entry Entry) {
	conns := slices.DeleteFunc(r.rooms[entry.RoomID], func(id string) bool { return id == entry.ConnID })
	if len(conns) == 0 {
		delete(r.rooms, entry.RoomID)
		return
	}
	r.rooms[entry.RoomID] = conns
}
