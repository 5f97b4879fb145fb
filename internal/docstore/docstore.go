// Package docstore implements the Postgres-backed JSONB document adapter:
// one table per entity collection, keyed by the entity's primary-key
// field, storing the full record as a jsonb payload plus the columns the
// sync engine needs to query on directly (owner, updated_at).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("docstore: record not found")

// Record is a decoded JSON entity payload.
type Record = map[string]any

// Collection is a thin adapter over one Postgres table storing entity
// records as jsonb: a per-item upsert/query shape generalized across
// entity kinds instead of one bespoke service struct per entity.
type Collection struct {
	db         *pgxpool.Pool
	table      string
	primaryKey string
}

// NewCollection binds a Collection to the given table, keyed by
// primaryKey. Callers typically get one Collection per registered entity
// kind from a Store (see Store.Collection).
func NewCollection(db *pgxpool.Pool, table, primaryKey string) *Collection {
	return &Collection{db: db, table: table, primaryKey: primaryKey}
}

// Store is the set of collections backing the sync engine, one per entity
// kind, all sharing a single connection pool.
type Store struct {
	db          *pgxpool.Pool
	collections map[string]*Collection
}

// NewStore builds a Store with one Collection per (entity, table) pair.
func NewStore(db *pgxpool.Pool, tables map[string]string, primaryKeys map[string]string) *Store {
	cols := make(map[string]*Collection, len(tables))
	for entity, table := range tables {
		cols[entity] = NewCollection(db, table, primaryKeys[entity])
	}
	return &Store{db: db, collections: cols}
}

// Collection returns the Collection registered for entity, or nil if none
// was registered.
func (s *Store) Collection(entity string) *Collection {
	return s.collections[entity]
}

// Get fetches one record by primary key, scoped to ownerID. Returns
// ErrNotFound if no row matches.
func (c *Collection) Get(ctx context.Context, ownerID, id string) (Record, error) {
	var payload Record
	err := c.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE owner_id = $1 AND %s = $2`, c.table, c.primaryKey,
	), ownerID, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Str("table", c.table).Str("id", id).Msg("docstore get failed")
		return nil, err
	}
	return payload, nil
}

// WhereEquals returns every record in the collection, scoped to ownerID,
// whose field equals value. Used by the sync engine's secondary-uniqueness
// check.
func (c *Collection) WhereEquals(ctx context.Context, ownerID, field string, value any) ([]Record, error) {
	rows, err := c.db.Query(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE owner_id = $1 AND payload->>'%s' = $2`, c.table, field,
	), ownerID, fmt.Sprintf("%v", value))
	if err != nil {
		log.Error().Err(err).Str("table", c.table).Str("field", field).Msg("docstore whereEquals query failed")
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var payload Record
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// FindOneByField scans the whole collection, across every owner, for the
// first record whose field equals value. Used by the auth/OTP workflow's
// profile-by-email lookups, which run before the caller knows any uid to
// scope a query by (unlike every sync-engine lookup, which is always
// scoped to the authenticated caller's own owner_id).
func (c *Collection) FindOneByField(ctx context.Context, field string, value any) (Record, error) {
	rows, err := c.db.Query(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE payload->>'%s' = $1 LIMIT 1`, c.table, field,
	), fmt.Sprintf("%v", value))
	if err != nil {
		log.Error().Err(err).Str("table", c.table).Str("field", field).Msg("docstore findOneByField query failed")
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	var payload Record
	if err := rows.Scan(&payload); err != nil {
		return nil, err
	}
	return payload, rows.Err()
}

// Delete permanently removes a record, used only by the auth/OTP workflow:
// by its UID-reconciliation repair, which re-keys a profile row under a
// different primary key rather than updating it in place, and to remove the
// OTP row after a successful password reset.
func (c *Collection) Delete(ctx context.Context, ownerID, id string) error {
	_, err := c.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE owner_id = $1 AND %s = $2`, c.table, c.primaryKey,
	), ownerID, id)
	return err
}

// Put inserts or fully overwrites the record identified by id, stamping
// updated_at from the payload's own field (the caller is responsible for
// having already resolved conflicts and set updated_at).
func (c *Collection) Put(ctx context.Context, ownerID, id string, rec Record) error {
	payloadJSON, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	updatedAt, _ := rec["updated_at"].(string)

	_, err = c.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, owner_id, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (%[2]s) DO UPDATE SET
			payload    = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, c.table, c.primaryKey), id, ownerID, payloadJSON, updatedAt)
	if err != nil {
		log.Error().Err(err).Str("table", c.table).Str("id", id).Msg("docstore put failed")
	}
	return err
}
