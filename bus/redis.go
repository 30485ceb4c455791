package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
)

// redisChannel is the pub/sub channel every node subscribes to.
const redisChannel = "tabletop.broadcast"

// redisEnvelope is the msgpack payload exchanged between nodes. Frame holds
// the already-encoded websocket event frame so every node delivers byte-
// identical payloads. Origin lets a node skip its own publishes, which it
// already delivered locally (with sender exclusion, which only the origin
// node can apply, since session ids are node-local).
type redisEnvelope struct {
	Origin  string            `msgpack:"origin"`
	Event   string            `msgpack:"event"`
	Rooms   []string          `msgpack:"rooms"`
	Frame   []byte            `msgpack:"frame"`
	Headers map[string]string `msgpack:"headers"`
}

// RedisBridge is a Broadcaster that delivers locally and mirrors every
// publish to peer nodes over Redis pub/sub.
type RedisBridge struct {
	nodeID string
	rdb    *redis.Client
	local  *Local
	log    logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Broadcaster = (*RedisBridge)(nil)

// NewRedisBridge wires a local broadcaster to a shared Redis channel and
// starts consuming peer publishes. Close must be called on shutdown.
func NewRedisBridge(ctx context.Context, log logger.Logger, rdb *redis.Client, reg *session.Registry) (*RedisBridge, error) {
	ctx, cancel := context.WithCancel(ctx)
	b := &RedisBridge{
		nodeID: uuid.New().String(),
		rdb:    rdb,
		local:  NewLocal(reg, log),
		log:    log.With(map[string]interface{}{"component": "bus"}),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	pubsub := rdb.Subscribe(ctx, redisChannel)
	// Force the subscription to be established before we return so a caller
	// cannot publish into a channel nobody consumes yet.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", redisChannel, err)
	}

	go b.consume(ctx, pubsub)
	return b, nil
}

func (b *RedisBridge) Publish(ctx context.Context, event string, payload any, rooms []string, excludeSession string) error {
	frame, err := protocol.EventFrame(event, payload)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b.local.deliver(event, buf, rooms, excludeSession)

	env := redisEnvelope{
		Origin:  b.nodeID,
		Event:   event,
		Rooms:   rooms,
		Frame:   buf,
		Headers: make(map[string]string),
	}
	propagator.Inject(ctx, headerCarrier(env.Headers))

	spanCtx, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	packed, err := msgpack.Marshal(env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to marshal broadcast envelope: %w", err)
	}
	if err := b.rdb.Publish(spanCtx, redisChannel, packed).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	span.SetStatus(codes.Ok, "broadcast published")
	return nil
}

func (b *RedisBridge) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) handle(ctx context.Context, payload []byte) {
	var env redisEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		b.log.Error("failed to decode broadcast envelope: %v", err)
		return
	}
	if env.Origin == b.nodeID {
		return
	}

	_, span := tracer.Start(
		propagator.Extract(ctx, headerCarrier(env.Headers)),
		"Deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	b.local.deliver(env.Event, env.Frame, env.Rooms, "")
}

// Close stops the peer subscription and waits for the consumer to exit.
func (b *RedisBridge) Close() error {
	b.cancel()
	<-b.done
	return nil
}

// headerCarrier adapts the envelope headers to the otel propagation API.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string {
	return c[key]
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
