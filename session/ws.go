package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabletopforge/realtime/protocol"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long we keep a silent connection before reaping it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound command frames.
	maxMessageSize = 1 << 20
	// sendBuffer is the outbound queue depth per session.
	sendBuffer = 64
)

// CommandHandler processes one command frame and returns its single result.
type CommandHandler func(ctx context.Context, sess *Session, frame protocol.Frame) protocol.Result

// Serve runs the session's read loop until the connection drops, dispatching
// command frames through handle and answering each with exactly one result
// frame. It registers the session on entry and tears it down on exit.
func (r *Registry) Serve(ctx context.Context, conn *websocket.Conn, sess *Session, handle CommandHandler) {
	r.Add(sess)
	go r.writePump(conn, sess)
	defer func() {
		r.Remove(sess.ID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			r.log.Warn("discarding malformed frame from session %s: %v", sess.ID, err)
			continue
		}
		if frame.Type != protocol.FrameCommand {
			r.log.Warn("unexpected frame type %q from session %s", frame.Type, sess.ID)
			continue
		}

		result := handle(ctx, sess, frame)
		reply, err := json.Marshal(protocol.ResultFrame(frame.ID, result))
		if err != nil {
			r.log.Error("failed to marshal result for session %s: %v", sess.ID, err)
			return
		}
		// A result that cannot be queued means the client can never learn
		// its command's outcome; drop the connection so it resynchronizes.
		if !sess.enqueue(reply) {
			r.log.Warn("closing session %s: result queue full", sess.ID)
			return
		}
	}
}

// writePump owns all writes on conn: queued frames plus keepalive pings. It
// exits when the session's queue is closed or a write fails.
func (r *Registry) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sess.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
