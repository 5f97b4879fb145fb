// Package syncengine implements the generic per-entity sync/resolve-conflict
// state machine. A single Engine is parameterized by a Registry of
// per-entity config rows rather than one hand-written handler per entity.
package syncengine

import "github.com/fieldsync/syncserver/internal/conflict"

// UniqueSpec names one secondary-uniqueness constraint: a single field, or
// a tuple of fields that together must be unique (e.g. (task_id, user_id)).
type UniqueSpec struct {
	Fields []string
}

// EntityConfig is one row of the Registry: everything the engine needs to
// know about an entity kind to run it through the generic state machine.
type EntityConfig struct {
	Entity     string
	Table      string
	PrimaryKey string

	SecondaryUnique []UniqueSpec

	// QuantityOps is true only for supply, offering sum_quantities and
	// average_quantities in addition to the base strategies the entity offers.
	QuantityOps bool
}

// HasIdentityDefiningSubset reports whether update_data is offered for this
// entity (delegates to the conflict package's table).
func (c EntityConfig) HasIdentityDefiningSubset() bool {
	return conflict.HasIdentityDefiningSubset(c.Entity)
}

// Registry is the full set of entity configs keyed by entity name, as
// accepted in the URL path segment of /api/sync/{entity}.
type Registry map[string]EntityConfig

// DefaultRegistry is the config for the seven required entity kinds plus
// the optional Notification kind.
var DefaultRegistry = Registry{
	"user": {
		Entity: "user",
		// "user" itself is a reserved word in Postgres (see the USER
		// function); the backing table is named sync_user to avoid
		// quoting every query docstore builds via plain fmt.Sprintf.
		Table:      "sync_user",
		PrimaryKey: "user_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"email"}},
			{Fields: []string{"phone_number"}},
		},
	},
	"registration": {
		Entity:     "registration",
		Table:      "registration",
		PrimaryKey: "registration_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"person_name", "age", "gender"}},
		},
	},
	"supply": {
		Entity:     "supply",
		Table:      "supply",
		PrimaryKey: "supply_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"barcode"}},
			{Fields: []string{"sku"}},
		},
		QuantityOps: true,
	},
	"task": {
		Entity:     "task",
		Table:      "task",
		PrimaryKey: "task_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"title", "location_id"}},
		},
	},
	"task_assignment": {
		Entity:     "task_assignment",
		Table:      "task_assignment",
		PrimaryKey: "assignment_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"task_id", "user_id"}},
		},
	},
	"location": {
		Entity:     "location",
		Table:      "location",
		PrimaryKey: "location_id",
		SecondaryUnique: []UniqueSpec{
			{Fields: []string{"name"}},
		},
	},
	"alert": {
		Entity:          "alert",
		Table:           "alert",
		PrimaryKey:      "alert_id",
		SecondaryUnique: nil,
	},
	"notification": {
		Entity:          "notification",
		Table:           "notification",
		PrimaryKey:      "notification_id",
		SecondaryUnique: nil,
	},
}

// Tables returns the entity->table name map, for wiring into docstore.NewStore.
func (r Registry) Tables() map[string]string {
	out := make(map[string]string, len(r))
	for e, c := range r {
		out[e] = c.Table
	}
	return out
}

// PrimaryKeys returns the entity->primary-key-field map, for wiring into
// docstore.NewStore.
func (r Registry) PrimaryKeys() map[string]string {
	out := make(map[string]string, len(r))
	for e, c := range r {
		out[e] = c.PrimaryKey
	}
	return out
}
