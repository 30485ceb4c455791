package session

import (
	"sync"

	"github.com/tabletopforge/realtime/logger"
)

// Registry owns all live sessions on this node and fan-outs room publishes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.WithPrefix("[session]"),
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.log.Debug("session %s connected (user %s)", s.ID, s.UserID)
}

// Remove unregisters a session and closes its outbound queue.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		s.close()
		r.log.Debug("session %s disconnected (user %s)", s.ID, s.UserID)
	}
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Publish delivers payload to every session joined to at least one of rooms,
// except excludeID. Delivery is at-most-once: sessions with a full outbound
// queue miss the message and must rely on a later refetch to resynchronize.
// It returns the number of sessions the payload was queued for.
func (r *Registry) Publish(rooms []string, payload []byte, excludeID string) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ID == excludeID {
			continue
		}
		if s.InAny(rooms) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.enqueue(payload) {
			delivered++
		} else {
			r.log.Warn("dropping broadcast for slow session %s (user %s)", s.ID, s.UserID)
		}
	}
	return delivered
}
