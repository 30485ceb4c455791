// Package service holds the server-side authority for each entity kind. A
// service is the only write path to its kind's persisted state: it validates
// arguments, re-checks authorization against current stored state, persists,
// and decides which rooms learn about the change.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tabletopforge/realtime/bus"
	"github.com/tabletopforge/realtime/command"
	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
	"github.com/tabletopforge/realtime/storage"
)

// EntityService exposes the five operations of one entity kind on the
// command registry and broadcasts every state transition.
type EntityService struct {
	kind  string
	store storage.Store
	bus   bus.Broadcaster
	log   logger.Logger

	// Overridable for deterministic tests.
	now   func() time.Time
	newID func() string
}

// NewEntityService creates the authority for one entity kind.
func NewEntityService(kind string, store storage.Store, broadcaster bus.Broadcaster, log logger.Logger) *EntityService {
	return &EntityService{
		kind:  kind,
		store: store,
		bus:   broadcaster,
		log:   log.WithPrefix("[" + kind + "]"),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Register binds the kind's operations on reg.
func (s *EntityService) Register(reg *command.Registry) {
	reg.Register(protocol.OpName(s.kind, "list"), s.handleList)
	reg.Register(protocol.OpName(s.kind, "get"), s.handleGet)
	reg.Register(protocol.OpName(s.kind, "create"), s.handleCreate)
	reg.Register(protocol.OpName(s.kind, "update"), s.handleUpdate)
	reg.Register(protocol.OpName(s.kind, "delete"), s.handleDelete)
}

// rooms computes the broadcast scope for an entity: the owner's personal
// room, plus the campaign room when the entity is bound to a campaign. This
// computation is the authorization boundary for who learns about a change.
func rooms(e protocol.Entity) []string {
	out := []string{protocol.UserRoom(e.CreatedBy)}
	if e.CampaignID != "" {
		out = append(out, protocol.CampaignRoom(e.CampaignID))
	}
	return out
}

// broadcast publishes a state transition to targets, excluding the
// originating session: it already applied the change from its own callback.
// Broadcast failures never fail the command: the mutation is durable by the
// time we get here, and offline peers resynchronize through a later refetch.
func (s *EntityService) broadcast(ctx context.Context, change string, payload any, targets []string, origin string) {
	event := protocol.EventName(s.kind, change)
	if err := s.bus.Publish(ctx, event, payload, targets, origin); err != nil {
		s.log.Warn("failed to broadcast %s: %v", event, err)
	}
}

// canMutate reports whether the session may change an entity under current
// server-side state: the owner may, and so may an elevated role.
func canMutate(sess *session.Session, e protocol.Entity) bool {
	return sess.Admin || e.CreatedBy == sess.UserID
}

// canRead additionally admits members of the entity's campaign.
func canRead(sess *session.Session, e protocol.Entity) bool {
	if canMutate(sess, e) {
		return true
	}
	return e.CampaignID != "" && sess.InAny([]string{protocol.CampaignRoom(e.CampaignID)})
}

func (s *EntityService) handleList(ctx context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
	var (
		entities []protocol.Entity
		err      error
	)
	if sess.Admin {
		entities, err = s.store.List(ctx, s.kind)
	} else {
		entities, err = s.store.ListOwned(ctx, s.kind, sess.UserID)
	}
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []protocol.Entity{}
	}
	return entities, nil
}

func (s *EntityService) handleGet(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	parsed, err := command.Decode[protocol.IDArgs](args)
	if err != nil {
		return nil, err
	}
	entity, err := s.store.Get(ctx, s.kind, parsed.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, protocol.Errorf(protocol.KindNotFound, "%s %s not found", s.kind, parsed.ID)
	}
	if err != nil {
		return nil, err
	}
	if !canRead(sess, entity) {
		return nil, protocol.Errorf(protocol.KindForbidden, "%s %s is not accessible", s.kind, parsed.ID)
	}
	return entity, nil
}

func (s *EntityService) handleCreate(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	params, err := command.Decode[protocol.CreateParams](args)
	if err != nil {
		return nil, err
	}

	// Identity and ownership come from the authenticated session, never from
	// the wire.
	now := s.now().UTC()
	entity := protocol.Entity{
		ID:           s.newID(),
		Name:         params.Name,
		Type:         params.Type,
		Img:          params.Img,
		Description:  params.Description,
		GameSystemID: params.GameSystemID,
		CampaignID:   params.CampaignID,
		Data:         params.Data,
		CreatedBy:    sess.UserID,
		UpdatedBy:    sess.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Insert(ctx, s.kind, entity); err != nil {
		return nil, err
	}

	s.log.Debug("created %s %s for user %s", s.kind, entity.ID, sess.UserID)
	s.broadcast(ctx, protocol.ChangeCreated, entity, rooms(entity), sess.ID)
	return entity, nil
}

func (s *EntityService) handleUpdate(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	parsed, err := command.Decode[protocol.UpdateArgs](args)
	if err != nil {
		return nil, err
	}

	// Authorization is always checked against the current stored entity, not
	// against whatever state the client believes it has.
	entity, err := s.store.Get(ctx, s.kind, parsed.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, protocol.Errorf(protocol.KindNotFound, "%s %s not found", s.kind, parsed.ID)
	}
	if err != nil {
		return nil, err
	}
	if !canMutate(sess, entity) {
		return nil, protocol.Errorf(protocol.KindForbidden, "%s %s is not yours to change", s.kind, parsed.ID)
	}

	before := rooms(entity)
	parsed.Patch.Apply(&entity)
	entity.UpdatedBy = sess.UserID
	entity.UpdatedAt = s.now().UTC()
	if err := s.store.Replace(ctx, s.kind, entity); err != nil {
		return nil, err
	}

	// When a patch moves the entity between campaigns, both the old and new
	// rooms need to hear about it.
	targets := union(before, rooms(entity))
	s.log.Debug("updated %s %s by user %s", s.kind, entity.ID, sess.UserID)
	s.broadcast(ctx, protocol.ChangeUpdated, entity, targets, sess.ID)
	return entity, nil
}

func (s *EntityService) handleDelete(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	parsed, err := command.Decode[protocol.IDArgs](args)
	if err != nil {
		return nil, err
	}

	entity, err := s.store.Get(ctx, s.kind, parsed.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, protocol.Errorf(protocol.KindNotFound, "%s %s not found", s.kind, parsed.ID)
	}
	if err != nil {
		return nil, err
	}
	if !canMutate(sess, entity) {
		return nil, protocol.Errorf(protocol.KindForbidden, "%s %s is not yours to delete", s.kind, parsed.ID)
	}

	if err := s.store.Remove(ctx, s.kind, parsed.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocol.Errorf(protocol.KindNotFound, "%s %s not found", s.kind, parsed.ID)
		}
		return nil, err
	}

	// The entity no longer exists, so the broadcast carries only its id.
	s.log.Debug("deleted %s %s by user %s", s.kind, parsed.ID, sess.UserID)
	s.broadcast(ctx, protocol.ChangeDeleted, protocol.IDArgs{ID: parsed.ID}, rooms(entity), sess.ID)
	return nil, nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, v := range append(a, b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
