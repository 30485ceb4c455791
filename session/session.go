// Package session tracks one live websocket connection per client: its
// identity, its room memberships, and its outbound queue. Sessions are never
// persisted; a reconnect is a brand-new session.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tabletopforge/realtime/protocol"
)

// Session is one live connection. A user may hold several concurrent
// sessions (multiple tabs); each gets its own id and room set.
type Session struct {
	ID     string
	UserID string
	Admin  bool

	mu     sync.Mutex
	rooms  map[string]struct{}
	send   chan []byte
	closed bool
}

// New creates a session for an authenticated user. The session starts joined
// to the user's personal room so ownership broadcasts reach it immediately.
func New(userID string, admin bool) *Session {
	s := &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		Admin:  admin,
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, sendBuffer),
	}
	s.rooms[protocol.UserRoom(userID)] = struct{}{}
	return s
}

// Join adds the session to a room.
func (s *Session) Join(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// Leave removes the session from a room.
func (s *Session) Leave(room string) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

// InAny reports whether the session is a member of at least one of rooms.
func (s *Session) InAny(rooms []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range rooms {
		if _, ok := s.rooms[room]; ok {
			return true
		}
	}
	return false
}

// Rooms returns a snapshot of the session's memberships.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// enqueue offers payload to the outbound queue without blocking. It reports
// false when the session is closed or the queue is full.
func (s *Session) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
