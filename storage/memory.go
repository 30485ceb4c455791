package storage

import (
	"context"
	"sync"

	"github.com/tabletopforge/realtime/protocol"
)

type memoryStore struct {
	mu    sync.RWMutex
	kinds map[string]map[string]protocol.Entity
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns an in-memory Store implementation. Useful for tests and
// single-node development servers; nothing survives a restart.
func NewMemory() Store {
	return &memoryStore{kinds: make(map[string]map[string]protocol.Entity)}
}

func (s *memoryStore) List(_ context.Context, kind string) ([]protocol.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Entity, 0, len(s.kinds[kind]))
	for _, e := range s.kinds[kind] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *memoryStore) ListOwned(_ context.Context, kind, ownerID string) ([]protocol.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []protocol.Entity
	for _, e := range s.kinds[kind] {
		if e.CreatedBy == ownerID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, kind, id string) (protocol.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.kinds[kind][id]
	if !ok {
		return protocol.Entity{}, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *memoryStore) Insert(_ context.Context, kind string, entity protocol.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities, ok := s.kinds[kind]
	if !ok {
		entities = make(map[string]protocol.Entity)
		s.kinds[kind] = entities
	}
	if _, ok := entities[entity.ID]; ok {
		return ErrExists
	}
	entities[entity.ID] = entity.Clone()
	return nil
}

func (s *memoryStore) Replace(_ context.Context, kind string, entity protocol.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := s.kinds[kind]
	if _, ok := entities[entity.ID]; !ok {
		return ErrNotFound
	}
	entities[entity.ID] = entity.Clone()
	return nil
}

func (s *memoryStore) Remove(_ context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := s.kinds[kind]
	if _, ok := entities[id]; !ok {
		return ErrNotFound
	}
	delete(entities, id)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
