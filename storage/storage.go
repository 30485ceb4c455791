// Package storage is the persistence boundary for entities. The sync layer
// only needs these five operations; everything else (indexing, migration,
// replication) is an implementation concern of the backing store.
package storage

import (
	"context"
	"errors"

	"github.com/tabletopforge/realtime/protocol"
)

// ErrNotFound is returned when the referenced entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrExists is returned by Insert when the id is already taken.
var ErrExists = errors.New("entity already exists")

// Store persists entities grouped by kind. Implementations must be safe for
// concurrent use and must apply each call atomically: a failed call leaves
// the stored state untouched.
type Store interface {
	// List returns every entity of the kind.
	List(ctx context.Context, kind string) ([]protocol.Entity, error)
	// ListOwned returns every entity of the kind created by ownerID.
	ListOwned(ctx context.Context, kind, ownerID string) ([]protocol.Entity, error)
	// Get returns one entity or ErrNotFound.
	Get(ctx context.Context, kind, id string) (protocol.Entity, error)
	// Insert stores a new entity; ErrExists if the id is taken.
	Insert(ctx context.Context, kind string, entity protocol.Entity) error
	// Replace overwrites an existing entity; ErrNotFound if absent.
	Replace(ctx context.Context, kind string, entity protocol.Entity) error
	// Remove deletes an entity; ErrNotFound if absent.
	Remove(ctx context.Context, kind, id string) error
	// Close releases backing resources.
	Close() error
}
