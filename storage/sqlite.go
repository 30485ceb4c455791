package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/tabletopforge/realtime/protocol"
)

type sqliteStore struct {
	db *sql.DB
}

var _ Store = (*sqliteStore)(nil)

// NewSQLite returns a Store backed by SQLite at dbPath. If dbPath is empty or
// ":memory:", an in-memory database is used. The kind-specific payload is
// kept as a msgpack blob so game systems can evolve their schemas without
// migrations; owner and id are real columns so lookups stay indexed.
func NewSQLite(dbPath string) (Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrent performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		owner TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (kind, id)
	)`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entities_owner ON entities(kind, owner)`); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

func scanEntities(rows *sql.Rows) ([]protocol.Entity, error) {
	defer rows.Close()
	var out []protocol.Entity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entity protocol.Entity
		if err := msgpack.Unmarshal(payload, &entity); err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

func (s *sqliteStore) List(ctx context.Context, kind string) ([]protocol.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM entities WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func (s *sqliteStore) ListOwned(ctx context.Context, kind, ownerID string) ([]protocol.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM entities WHERE kind = ? AND owner = ?`, kind, ownerID)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func (s *sqliteStore) Get(ctx context.Context, kind, id string) (protocol.Entity, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entities WHERE kind = ? AND id = ?`, kind, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return protocol.Entity{}, ErrNotFound
	}
	if err != nil {
		return protocol.Entity{}, err
	}
	var entity protocol.Entity
	if err := msgpack.Unmarshal(payload, &entity); err != nil {
		return protocol.Entity{}, err
	}
	return entity, nil
}

func (s *sqliteStore) Insert(ctx context.Context, kind string, entity protocol.Entity) error {
	payload, err := msgpack.Marshal(entity)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (kind, id, owner, payload) VALUES (?, ?, ?, ?)`,
		kind, entity.ID, entity.CreatedBy, payload)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) Replace(ctx context.Context, kind string, entity protocol.Entity) error {
	payload, err := msgpack.Marshal(entity)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET owner = ?, payload = ? WHERE kind = ? AND id = ?`,
		entity.CreatedBy, payload, kind, entity.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
