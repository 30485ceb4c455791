// Package client is the consumer half of the sync protocol: a websocket
// connection issuing commands and receiving broadcasts, plus per-kind entity
// stores that keep a reconciled local cache.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"sync"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
)

// DefaultCommandTimeout bounds how long Invoke waits for its callback before
// reporting the outcome as unknown.
const DefaultCommandTimeout = 10 * time.Second

// Invoker issues one command and returns its single outcome. EntityStore
// depends on this interface so it can be tested without a transport.
type Invoker interface {
	Invoke(ctx context.Context, op string, args any) (json.RawMessage, error)
}

// EventSource delivers named broadcast events. Conn implements it; stores
// bind their reconciliation handlers through it.
type EventSource interface {
	Handle(event string, handler func(payload json.RawMessage))
}

// Conn is a live connection to the sync server.
type Conn struct {
	ws      *websocket.Conn
	log     logger.Logger
	timeout time.Duration
	retry   *RetryConfig

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan protocol.Result
	handlers map[string][]func(json.RawMessage)
	closed   bool

	done chan struct{}
}

var _ Invoker = (*Conn)(nil)
var _ EventSource = (*Conn)(nil)

// Option configures a Conn.
type Option func(*Conn)

// WithTimeout overrides the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithRetry enables automatic retry of INTERNAL failures. Off by default;
// retry policy belongs to the caller, not the channel.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Conn) {
		c.retry = &cfg
	}
}

// Dial connects to the sync server at url (ws:// or wss://) and starts the
// read loop. The caller owns Close.
func Dial(ctx context.Context, url string, log logger.Logger, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := newConn(ws, log, opts...)
	go c.readLoop()
	return c, nil
}

func newConn(ws *websocket.Conn, log logger.Logger, opts ...Option) *Conn {
	c := &Conn{
		ws:       ws,
		log:      log.WithPrefix("[client]"),
		timeout:  DefaultCommandTimeout,
		pending:  make(map[string]chan protocol.Result),
		handlers: make(map[string][]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle registers a broadcast handler for event. Handlers run on the read
// loop goroutine, so they must not block.
func (c *Conn) Handle(event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// Invoke sends one command and waits for its single tagged result. The
// outcome is one of: the server's data, the server's kind-tagged error, a
// context error, or TRANSPORT_LOST when the connection dropped or the
// timeout elapsed before the callback arrived, in which case the command
// may or may not have executed.
func (c *Conn) Invoke(ctx context.Context, op string, args any) (json.RawMessage, error) {
	var raw json.RawMessage
	if args != nil {
		buf, err := json.Marshal(args)
		if err != nil {
			return nil, protocol.Errorf(protocol.KindInvalidArgs, "failed to encode arguments: %v", err)
		}
		raw = buf
	}

	attempt := 0
	for {
		data, err := c.invokeOnce(ctx, op, raw)
		if err == nil {
			return data, nil
		}
		if c.retry == nil || attempt >= c.retry.MaxRetries || protocol.KindOf(err) != protocol.KindInternal {
			return nil, err
		}
		delay := c.retry.backoff(attempt)
		attempt++
		c.log.Debug("retrying %s after %v (attempt %d): %v", op, delay, attempt, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) invokeOnce(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan protocol.Result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, protocol.Errorf(protocol.KindTransportLost, "connection is closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame := protocol.CommandFrame(id, op, args)
	if err := c.writeFrame(frame); err != nil {
		c.forget(id)
		return nil, protocol.Errorf(protocol.KindTransportLost, "failed to send %s: %v", op, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if !result.Success {
			return nil, result.Err()
		}
		return result.Data, nil
	case <-timer.C:
		c.forget(id)
		return nil, protocol.Errorf(protocol.KindTransportLost, "timed out waiting for result of %s", op)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, protocol.Errorf(protocol.KindTransportLost, "connection lost before result of %s", op)
	}
}

func (c *Conn) writeFrame(frame protocol.Frame) error {
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, buf)
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve delivers a result to its waiting call exactly once. A result for
// an unknown id (already resolved, timed out, or a server double-reply) is
// logged and dropped rather than propagated.
func (c *Conn) resolve(id string, result protocol.Result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warn("ignoring stale or duplicate result for call %s", id)
		return
	}
	ch <- result
}

func (c *Conn) dispatchEvent(event string, payload json.RawMessage) {
	c.mu.Lock()
	handlers := make([]func(json.RawMessage), len(c.handlers[event]))
	copy(handlers, c.handlers[event])
	c.mu.Unlock()
	for _, handler := range handlers {
		handler(payload)
	}
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Warn("discarding malformed frame: %v", err)
			continue
		}
		switch frame.Type {
		case protocol.FrameResult:
			if frame.Result == nil {
				c.log.Warn("result frame without result for call %s", frame.ID)
				continue
			}
			c.resolve(frame.ID, *frame.Result)
		case protocol.FrameEvent:
			c.dispatchEvent(frame.Event, frame.Payload)
		default:
			c.log.Warn("unexpected frame type %q", frame.Type)
		}
	}
}

// shutdown marks the connection lost and wakes every in-flight call with an
// unknown-outcome error.
func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// Close tears the connection down. In-flight calls fail with TRANSPORT_LOST.
func (c *Conn) Close() error {
	err := c.ws.Close()
	c.shutdown()
	return err
}
