// Package command dispatches named operations arriving on a session's
// command channel. Every dispatched frame produces exactly one tagged
// result: handler errors, unknown operations, and panics all map onto the
// protocol error taxonomy rather than escaping.
package command

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
)

// Handler executes one operation for the calling session. The returned value
// becomes the success payload; a returned error becomes the error result,
// classified by its kind tag.
type Handler func(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error)

// Registry maps operation names to handlers.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Handler
	log logger.Logger
}

// NewRegistry creates an empty command registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		ops: make(map[string]Handler),
		log: log.WithPrefix("[command]"),
	}
}

// Register binds op to handler, replacing any previous binding.
func (r *Registry) Register(op string, handler Handler) {
	r.mu.Lock()
	r.ops[op] = handler
	r.mu.Unlock()
}

// Dispatch runs the operation named by frame and returns its single result.
// It never panics: a panicking handler is logged and reported as INTERNAL,
// with no second result emitted.
func (r *Registry) Dispatch(ctx context.Context, sess *session.Session, frame protocol.Frame) (result protocol.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler for %s panicked: %v", frame.Op, rec)
			result = protocol.Fail(protocol.Errorf(protocol.KindInternal, "internal error"))
		}
	}()

	r.mu.RLock()
	handler, ok := r.ops[frame.Op]
	r.mu.RUnlock()
	if !ok {
		return protocol.Fail(protocol.Errorf(protocol.KindInvalidArgs, "unknown operation %q", frame.Op))
	}

	data, err := handler(ctx, sess, frame.Args)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindInternal {
			r.log.Error("%s failed for session %s: %v", frame.Op, sess.ID, err)
			// Internal details stay server-side; the client gets the kind.
			return protocol.Fail(protocol.Errorf(protocol.KindInternal, "internal error"))
		}
		return protocol.Fail(err)
	}
	return protocol.Ok(data)
}

// Validator is implemented by argument types that carry their own schema
// checks.
type Validator interface {
	Validate() error
}

// Decode unmarshals args into T and runs its validation. Both failure modes
// report INVALID_ARGS, so handlers reject malformed input before touching
// any state.
func Decode[T any](args json.RawMessage) (T, error) {
	var parsed T
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return parsed, protocol.Errorf(protocol.KindInvalidArgs, "malformed arguments: %v", err)
	}
	if v, ok := any(parsed).(Validator); ok {
		if err := v.Validate(); err != nil {
			return parsed, err
		}
	}
	return parsed, nil
}
