package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletopforge/realtime/protocol"
)

func testEntity(id, owner string) protocol.Entity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return protocol.Entity{
		ID:        id,
		Name:      "Mira",
		Type:      "character",
		Data:      map[string]any{"hp": int64(12)},
		CreatedBy: owner,
		UpdatedBy: owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		_, err := s.Get(ctx, protocol.KindActor, "a1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insert and get", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		want := testEntity("a1", "u1")
		require.NoError(t, s.Insert(ctx, protocol.KindActor, want))

		got, err := s.Get(ctx, protocol.KindActor, "a1")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.CreatedBy, got.CreatedBy)
		assert.EqualValues(t, 12, got.Data["hp"])
	})

	t.Run("insert duplicate", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("a1", "u1")))
		assert.ErrorIs(t, s.Insert(ctx, protocol.KindActor, testEntity("a1", "u2")), ErrExists)
	})

	t.Run("kinds are separate namespaces", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("x1", "u1")))
		require.NoError(t, s.Insert(ctx, protocol.KindItem, testEntity("x1", "u1")))

		actors, err := s.List(ctx, protocol.KindActor)
		require.NoError(t, err)
		assert.Len(t, actors, 1)
	})

	t.Run("list owned", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("a1", "u1")))
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("a2", "u1")))
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("a3", "u2")))

		owned, err := s.ListOwned(ctx, protocol.KindActor, "u1")
		require.NoError(t, err)
		assert.Len(t, owned, 2)

		all, err := s.List(ctx, protocol.KindActor)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("replace", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		entity := testEntity("a1", "u1")
		require.NoError(t, s.Insert(ctx, protocol.KindActor, entity))

		entity.Name = "Mira the Bold"
		require.NoError(t, s.Replace(ctx, protocol.KindActor, entity))

		got, err := s.Get(ctx, protocol.KindActor, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Mira the Bold", got.Name)
	})

	t.Run("replace missing", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		assert.ErrorIs(t, s.Replace(ctx, protocol.KindActor, testEntity("ghost", "u1")), ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		require.NoError(t, s.Insert(ctx, protocol.KindActor, testEntity("a1", "u1")))
		require.NoError(t, s.Remove(ctx, protocol.KindActor, "a1"))
		_, err := s.Get(ctx, protocol.KindActor, "a1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Remove(ctx, protocol.KindActor, "a1"), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "entities.db"))
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	entity := testEntity("a1", "u1")
	require.NoError(t, s.Insert(ctx, protocol.KindActor, entity))

	// Mutating the caller's copy must not leak into the store.
	entity.Data["hp"] = int64(1)
	got, err := s.Get(ctx, protocol.KindActor, "a1")
	require.NoError(t, err)
	assert.EqualValues(t, 12, got.Data["hp"])

	// Mutating a returned copy must not leak either.
	got.Data["hp"] = int64(3)
	again, err := s.Get(ctx, protocol.KindActor, "a1")
	require.NoError(t, err)
	assert.EqualValues(t, 12, again.Data["hp"])
}
