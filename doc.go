// Package realtime is the state synchronization layer for collaborative
// tabletop campaigns. A server process owns the authoritative entity store
// and fans confirmed changes out to every connected session; clients keep a
// local collection that merges server broadcasts idempotently and refreshes
// itself when stale.
//
// The server side lives in session (websocket lifecycle), command
// (request/reply dispatch), service (authorization and the sole write path),
// storage (sqlite or in-memory persistence) and bus (room-scoped broadcast,
// optionally mirrored across nodes over redis). The client side lives in
// client: a Conn multiplexes tagged commands and events over one websocket,
// and an EntityStore layers the cached collection on top of it.
package realtime
