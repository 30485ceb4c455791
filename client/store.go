package client

import (
	"context"
	"encoding/json"
	"time"

	"sync"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
)

// EntityStore is the reactive source of truth for one entity kind on the
// client: a reconciled collection, an optional current selection, and the
// lazy-load cache policy. Mutations reach it from two paths, the session's
// own command results and broadcasts from other sessions, and both apply
// the same idempotent merge keyed by id, so double application is safe by
// construction. Conflicts between concurrent updates resolve last-write-wins
// by arrival order; the protocol carries no version counters.
type EntityStore struct {
	kind string
	inv  Invoker
	log  logger.Logger

	cacheDuration time.Duration
	now           func() time.Time

	mu        sync.Mutex
	entities  map[string]protocol.Entity
	current   string
	lastFetch time.Time
	// inflight is non-nil while a list command is pending; mutations arriving
	// meanwhile are queued so the loaded snapshot cannot clobber them.
	inflight chan struct{}
	queued   []func()
}

// StoreOption configures an EntityStore.
type StoreOption func(*EntityStore)

// WithCacheDuration overrides how long a loaded collection stays fresh.
func WithCacheDuration(d time.Duration) StoreOption {
	return func(s *EntityStore) {
		s.cacheDuration = d
	}
}

// NewEntityStore creates a store for kind backed by inv.
func NewEntityStore(kind string, inv Invoker, log logger.Logger, opts ...StoreOption) *EntityStore {
	s := &EntityStore{
		kind:          kind,
		inv:           inv,
		log:           log.WithPrefix("[store:" + kind + "]"),
		cacheDuration: DefaultCacheDuration,
		now:           time.Now,
		entities:      make(map[string]protocol.Entity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind subscribes the store's reconciliation handlers to src. Call once per
// store, before issuing commands.
func (s *EntityStore) Bind(src EventSource) {
	src.Handle(protocol.EventName(s.kind, protocol.ChangeCreated), s.OnCreated)
	src.Handle(protocol.EventName(s.kind, protocol.ChangeUpdated), s.OnUpdated)
	src.Handle(protocol.EventName(s.kind, protocol.ChangeDeleted), s.OnDeleted)
}

// EnsureLoaded returns the collection, fetching from the server first when
// the cache policy demands it. This is the only bulk-load path; callers must
// not issue list commands directly. A failed fetch leaves the cache stale so
// the next call retries.
func (s *EntityStore) EnsureLoaded(ctx context.Context, force bool) ([]protocol.Entity, error) {
	s.mu.Lock()
	// Piggyback on a fetch already in flight rather than racing it.
	for s.inflight != nil {
		wait := s.inflight
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
	}

	if !ShouldRefresh(len(s.entities), s.lastFetch, s.now(), force, s.cacheDuration) {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out, nil
	}

	done := make(chan struct{})
	s.inflight = done
	s.mu.Unlock()

	data, err := s.inv.Invoke(ctx, protocol.OpName(s.kind, "list"), nil)

	s.mu.Lock()
	defer func() {
		s.inflight = nil
		close(done)
		s.mu.Unlock()
	}()

	if err != nil {
		// Mutations that raced the failed fetch still apply to the old
		// collection; the fetch timestamp stays stale.
		s.replayQueuedLocked()
		return nil, err
	}

	var entities []protocol.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		s.replayQueuedLocked()
		return nil, protocol.Errorf(protocol.KindInternal, "malformed list payload: %v", err)
	}

	s.entities = make(map[string]protocol.Entity, len(entities))
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	s.lastFetch = s.now()
	// Changes broadcast while the list was in flight beat the snapshot.
	s.replayQueuedLocked()
	if _, ok := s.entities[s.current]; !ok {
		s.current = ""
	}
	return s.snapshotLocked(), nil
}

func (s *EntityStore) replayQueuedLocked() {
	for _, apply := range s.queued {
		apply()
	}
	s.queued = nil
}

// Create issues <kind>:create and applies the server-confirmed entity to the
// local collection so the initiating UI updates without waiting for its own
// broadcast.
func (s *EntityStore) Create(ctx context.Context, params protocol.CreateParams) (protocol.Entity, error) {
	data, err := s.inv.Invoke(ctx, protocol.OpName(s.kind, "create"), params)
	if err != nil {
		return protocol.Entity{}, err
	}
	var entity protocol.Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return protocol.Entity{}, protocol.Errorf(protocol.KindInternal, "malformed create payload: %v", err)
	}
	s.apply(func() { s.upsertLocked(entity) })
	return entity, nil
}

// Update issues <kind>:update and applies the server-confirmed entity
// locally.
func (s *EntityStore) Update(ctx context.Context, id string, patch protocol.Patch) (protocol.Entity, error) {
	data, err := s.inv.Invoke(ctx, protocol.OpName(s.kind, "update"), protocol.UpdateArgs{ID: id, Patch: patch})
	if err != nil {
		return protocol.Entity{}, err
	}
	var entity protocol.Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return protocol.Entity{}, protocol.Errorf(protocol.KindInternal, "malformed update payload: %v", err)
	}
	s.apply(func() { s.upsertLocked(entity) })
	return entity, nil
}

// Delete issues <kind>:delete and removes the entity locally on success.
func (s *EntityStore) Delete(ctx context.Context, id string) error {
	if _, err := s.inv.Invoke(ctx, protocol.OpName(s.kind, "delete"), protocol.IDArgs{ID: id}); err != nil {
		return err
	}
	s.apply(func() { s.removeLocked(id) })
	return nil
}

// OnCreated reconciles a created broadcast. Idempotent: an id already
// present is overwritten, never duplicated.
func (s *EntityStore) OnCreated(payload json.RawMessage) {
	var entity protocol.Entity
	if err := json.Unmarshal(payload, &entity); err != nil {
		s.log.Warn("discarding malformed created event: %v", err)
		return
	}
	s.apply(func() { s.upsertLocked(entity) })
}

// OnUpdated reconciles an updated broadcast. Applying the same update twice
// leaves the collection unchanged.
func (s *EntityStore) OnUpdated(payload json.RawMessage) {
	var entity protocol.Entity
	if err := json.Unmarshal(payload, &entity); err != nil {
		s.log.Warn("discarding malformed updated event: %v", err)
		return
	}
	s.apply(func() { s.upsertLocked(entity) })
}

// OnDeleted reconciles a deleted broadcast. Deleting an absent id is a
// no-op; deleting the current selection clears it.
func (s *EntityStore) OnDeleted(payload json.RawMessage) {
	var args protocol.IDArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		s.log.Warn("discarding malformed deleted event: %v", err)
		return
	}
	s.apply(func() { s.removeLocked(args.ID) })
}

// apply runs a mutation now, or queues it while a list fetch is in flight.
func (s *EntityStore) apply(mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		s.queued = append(s.queued, mutate)
		return
	}
	mutate()
}

func (s *EntityStore) upsertLocked(entity protocol.Entity) {
	s.entities[entity.ID] = entity
}

func (s *EntityStore) removeLocked(id string) {
	delete(s.entities, id)
	if s.current == id {
		s.current = ""
	}
}

func (s *EntityStore) snapshotLocked() []protocol.Entity {
	out := make([]protocol.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out
}

// All returns a snapshot of the collection.
func (s *EntityStore) All() []protocol.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns one cached entity by id.
func (s *EntityStore) Get(id string) (protocol.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return e, ok
}

// Len returns the collection size.
func (s *EntityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// SetCurrent selects id when it exists in the collection and clears the
// selection otherwise. It reports whether a selection is now set.
func (s *EntityStore) SetCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; ok {
		s.current = id
		return true
	}
	s.current = ""
	return false
}

// Current resolves the current selection against the collection.
func (s *EntityStore) Current() (protocol.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return protocol.Entity{}, false
	}
	e, ok := s.entities[s.current]
	return e, ok
}
