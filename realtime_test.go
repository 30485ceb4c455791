package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletopforge/realtime/bus"
	"github.com/tabletopforge/realtime/client"
	"github.com/tabletopforge/realtime/command"
	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/service"
	"github.com/tabletopforge/realtime/session"
	"github.com/tabletopforge/realtime/storage"
)

// startServer wires the full server stack over in-memory storage and returns
// a websocket URL that authenticates from the ?user= query parameter.
func startServer(t *testing.T) string {
	t.Helper()
	log := logger.NewTestLogger()

	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })

	registry := session.NewRegistry(log)
	broadcaster := bus.NewLocal(registry, log)

	commands := command.NewRegistry(log)
	service.NewEntityService("actor", store, broadcaster, log).Register(commands)
	service.NewEntityService("item", store, broadcaster, log).Register(commands)
	service.RegisterCampaignOps(commands, log)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := session.New(userID, r.URL.Query().Get("role") == "admin")
		registry.Serve(r.Context(), conn, sess, func(ctx context.Context, sess *session.Session, frame protocol.Frame) protocol.Result {
			return commands.Dispatch(ctx, sess, frame)
		})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "?user="
}

func connect(t *testing.T, baseURL, userID string) *client.Conn {
	t.Helper()
	c, err := client.Dial(context.Background(), baseURL+userID, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTwoSessionSync(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()

	alice := connect(t, baseURL, "alice")
	bob := connect(t, baseURL, "bob")

	_, err := alice.Invoke(ctx, "campaign:join", service.CampaignArgs{CampaignID: "c1"})
	require.NoError(t, err)
	_, err = bob.Invoke(ctx, "campaign:join", service.CampaignArgs{CampaignID: "c1"})
	require.NoError(t, err)

	aliceActors := client.NewEntityStore("actor", alice, logger.NewTestLogger())
	aliceActors.Bind(alice)
	bobActors := client.NewEntityStore("actor", bob, logger.NewTestLogger())
	bobActors.Bind(bob)

	_, err = aliceActors.EnsureLoaded(ctx, false)
	require.NoError(t, err)
	_, err = bobActors.EnsureLoaded(ctx, false)
	require.NoError(t, err)

	created, err := aliceActors.Create(ctx, protocol.CreateParams{
		Name:       "Mira",
		Type:       "npc",
		CampaignID: "c1",
		Data:       map[string]any{"hp": 12},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.CreatedBy)

	// Alice sees the actor immediately from the confirmed command result.
	_, ok := aliceActors.Get(created.ID)
	assert.True(t, ok)

	// Bob converges through the campaign broadcast.
	require.Eventually(t, func() bool {
		_, ok := bobActors.Get(created.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, bobActors.SetCurrent(created.ID))

	// Alice renames the actor; Bob's copy follows.
	updated, err := aliceActors.Update(ctx, created.ID, protocol.Patch{Name: strPtr("Mira the Bold")})
	require.NoError(t, err)
	assert.Equal(t, "Mira the Bold", updated.Name)
	require.Eventually(t, func() bool {
		e, ok := bobActors.Get(created.ID)
		return ok && e.Name == "Mira the Bold"
	}, 2*time.Second, 10*time.Millisecond)

	// Bob cannot delete what Alice owns.
	err = bobActors.Delete(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, protocol.KindForbidden, protocol.KindOf(err))

	// Alice deletes it; Bob's collection and current reference both clear.
	require.NoError(t, aliceActors.Delete(ctx, created.ID))
	require.Eventually(t, func() bool {
		return bobActors.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, ok = bobActors.Current()
	assert.False(t, ok)
}

func TestReconnectResyncsThroughLoad(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()

	first := connect(t, baseURL, "alice")
	firstItems := client.NewEntityStore("item", first, logger.NewTestLogger())
	firstItems.Bind(first)
	_, err := firstItems.Create(ctx, protocol.CreateParams{Name: "Lantern", Type: "gear", CampaignID: "c1"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A fresh connection missed every broadcast; the initial load brings the
	// new store up to date from the server's state.
	second := connect(t, baseURL, "alice")
	secondItems := client.NewEntityStore("item", second, logger.NewTestLogger())
	secondItems.Bind(second)
	entities, err := secondItems.EnsureLoaded(ctx, false)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Lantern", entities[0].Name)
}

func strPtr(s string) *string { return &s }
