package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
)

// deliveredCount digs the fan-out count out of the trace log the local
// broadcaster writes per publish.
func deliveredCount(t *testing.T, log *logger.TestLogger) int {
	t.Helper()
	logs := log.Logs()
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	require.Equal(t, "TRACE", last.Severity)
	require.Len(t, last.Arguments, 2)
	n, ok := last.Arguments[1].(int)
	require.True(t, ok)
	return n
}

func TestLocalPublish(t *testing.T) {
	log := logger.NewTestLogger()
	reg := session.NewRegistry(log)
	owner := session.New("u1", false)
	other := session.New("u2", false)
	reg.Add(owner)
	reg.Add(other)

	b := NewLocal(reg, log)
	entity := protocol.Entity{ID: "a1", Name: "Mira", CreatedBy: "u1"}
	err := b.Publish(context.Background(), protocol.EventName(protocol.KindActor, protocol.ChangeCreated),
		entity, []string{protocol.UserRoom("u1")}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, deliveredCount(t, log))
}

func TestLocalPublishExcludesSender(t *testing.T) {
	log := logger.NewTestLogger()
	reg := session.NewRegistry(log)
	sender := session.New("u1", false)
	reg.Add(sender)

	b := NewLocal(reg, log)
	err := b.Publish(context.Background(), "actor:deleted",
		protocol.IDArgs{ID: "a1"}, []string{protocol.UserRoom("u1")}, sender.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, deliveredCount(t, log))
}

func TestRedisEnvelopeRoundTrip(t *testing.T) {
	frame, err := protocol.EventFrame("actor:updated", protocol.Entity{ID: "a1"})
	require.NoError(t, err)
	buf, err := json.Marshal(frame)
	require.NoError(t, err)

	env := redisEnvelope{
		Origin:  "node-1",
		Event:   "actor:updated",
		Rooms:   []string{"user:u1", "campaign:c1"},
		Frame:   buf,
		Headers: map[string]string{"traceparent": "00-abc"},
	}
	packed, err := msgpack.Marshal(env)
	require.NoError(t, err)

	var decoded redisEnvelope
	require.NoError(t, msgpack.Unmarshal(packed, &decoded))
	assert.Equal(t, env.Origin, decoded.Origin)
	assert.Equal(t, env.Rooms, decoded.Rooms)
	assert.Equal(t, env.Headers, decoded.Headers)

	var decodedFrame protocol.Frame
	require.NoError(t, json.Unmarshal(decoded.Frame, &decodedFrame))
	assert.Equal(t, protocol.FrameEvent, decodedFrame.Type)
	assert.Equal(t, "actor:updated", decodedFrame.Event)
}

func TestRedisBridgeSkipsOwnOrigin(t *testing.T) {
	log := logger.NewTestLogger()
	reg := session.NewRegistry(log)
	reg.Add(session.New("u1", false))

	b := &RedisBridge{
		nodeID: "node-1",
		local:  NewLocal(reg, log),
		log:    log,
	}

	frame, err := protocol.EventFrame("actor:created", protocol.Entity{ID: "a1", CreatedBy: "u1"})
	require.NoError(t, err)
	buf, err := json.Marshal(frame)
	require.NoError(t, err)

	pack := func(origin string) []byte {
		packed, err := msgpack.Marshal(redisEnvelope{
			Origin: origin,
			Event:  "actor:created",
			Rooms:  []string{protocol.UserRoom("u1")},
			Frame:  buf,
		})
		require.NoError(t, err)
		return packed
	}

	// Own origin: already delivered locally at publish time, skip.
	b.handle(context.Background(), pack("node-1"))
	for _, entry := range log.Logs() {
		assert.NotEqual(t, "TRACE", entry.Severity)
	}

	// Peer origin: deliver to local rooms.
	b.handle(context.Background(), pack("node-2"))
	assert.Equal(t, 1, deliveredCount(t, log))
}

func TestRedisBridgeMalformedEnvelope(t *testing.T) {
	log := logger.NewTestLogger()
	reg := session.NewRegistry(log)
	b := &RedisBridge{nodeID: "node-1", local: NewLocal(reg, log), log: log}

	b.handle(context.Background(), []byte("not msgpack"))

	var errored bool
	for _, entry := range log.Logs() {
		if entry.Severity == "ERROR" {
			errored = true
		}
	}
	assert.True(t, errored)
}
