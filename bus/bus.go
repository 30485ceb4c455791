// Package bus carries broadcast events to rooms. The local implementation
// fans out to sessions on this node; the Redis bridge extends the same rooms
// across every node sharing the channel.
package bus

import (
	"context"
	"encoding/json"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
)

// Broadcaster publishes a named event to one or more rooms. Delivery is
// fire-and-forget and at-most-once per connected session; excludeSession
// names the originating session, which already holds the result via its
// command callback.
type Broadcaster interface {
	Publish(ctx context.Context, event string, payload any, rooms []string, excludeSession string) error
}

// Local fans out to the sessions registered on this node.
type Local struct {
	reg *session.Registry
	log logger.Logger
}

var _ Broadcaster = (*Local)(nil)

// NewLocal creates a Broadcaster over this node's session registry.
func NewLocal(reg *session.Registry, log logger.Logger) *Local {
	return &Local{reg: reg, log: log.WithPrefix("[bus]")}
}

func (b *Local) Publish(_ context.Context, event string, payload any, rooms []string, excludeSession string) error {
	frame, err := protocol.EventFrame(event, payload)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b.deliver(event, buf, rooms, excludeSession)
	return nil
}

func (b *Local) deliver(event string, frame []byte, rooms []string, excludeSession string) {
	n := b.reg.Publish(rooms, frame, excludeSession)
	b.log.Trace("delivered %s to %d session(s)", event, n)
}
