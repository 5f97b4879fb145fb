package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldsync/syncserver/internal/conflict"
	"github.com/fieldsync/syncserver/internal/docstore"
	"github.com/fieldsync/syncserver/internal/identity"
	"github.com/fieldsync/syncserver/internal/timestampkit"
	"github.com/fieldsync/syncserver/internal/validate"
	"github.com/rs/zerolog/log"
)

// Record is a decoded JSON entity payload.
type Record = map[string]any

// Collection is the subset of docstore.Collection's behavior the engine
// depends on. Defined here (rather than imported) so tests can substitute
// an in-memory fake without a database.
type Collection interface {
	Get(ctx context.Context, ownerID, id string) (Record, error)
	WhereEquals(ctx context.Context, ownerID, field string, value any) ([]Record, error)
	Put(ctx context.Context, ownerID, id string, rec Record) error
}

// Store looks up the Collection backing an entity kind.
type Store interface {
	Collection(entity string) Collection
}

type docstoreAdapter struct{ *docstore.Store }

func (d docstoreAdapter) Collection(entity string) Collection {
	return d.Store.Collection(entity)
}

// WrapDocstore adapts a *docstore.Store to the Store interface this
// package depends on.
func WrapDocstore(s *docstore.Store) Store {
	return docstoreAdapter{s}
}

// Engine runs the generic sync/resolve-conflict state machine against a
// Registry-configured entity and a Store.
type Engine struct {
	Registry Registry
	Store    Store
	Now      func() time.Time

	// VerifyPassword computes the User identity heuristic's password-match
	// signal. It must be authstore's hash-verify, never a plaintext/hash
	// direct comparison. Optional; when nil, password-match is always false.
	VerifyPassword func(hash, plaintext string) bool
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return timestampkit.NowUTC()
}

// SyncResult is the success outcome of Sync.
type SyncResult struct {
	Created    bool
	ResolvedAs string // "same_<entity>_detected" when auto-merge fired
	ServerID   string
	Data       Record
}

// ResolveResult is the success outcome of ResolveConflict.
type ResolveResult struct {
	IsNew             bool
	ResolutionStrategy string
	ResolvedData      Record
	AllowedStrategies []string
	ClientID          string
	ServerID          string
}

func str(r Record, field string) string {
	if v, ok := r[field]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return ""
}

// Sync runs the push/pull sync state machine for one client record.
func (e *Engine) Sync(ctx context.Context, entity, ownerID string, client Record) (*SyncResult, error) {
	cfg, ok := e.Registry[entity]
	if !ok {
		return nil, validationErr(fmt.Sprintf("unknown entity %q", entity))
	}

	if verr := validate.Validate(entity, client); verr != nil {
		return nil, validationErr(verr.Error())
	}

	col := e.Store.Collection(entity)
	pk := str(client, cfg.PrimaryKey)

	server, err := col.Get(ctx, ownerID, pk)
	exists := true
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			exists = false
		} else {
			log.Error().Err(err).Str("entity", entity).Str("pk", pk).Msg("sync primary lookup failed")
			return nil, transientErr("lookup failed")
		}
	}

	if exists {
		clientT := timestampkit.ResolveForStaleness(client["updated_at"])
		serverT := timestampkit.ResolveForStaleness(server["updated_at"])
		if timestampkit.Cmp(clientT, serverT) < 0 {
			allowed := []string{conflict.ClientWins, conflict.ServerWins, conflict.Merge}
			if cfg.HasIdentityDefiningSubset() {
				allowed = append(allowed, conflict.UpdateData)
			}
			return nil, &Error{
				Kind:              KindConflict,
				Message:           "stale update",
				ConflictField:     "updated_at",
				LatestData:        server,
				AllowedStrategies: allowed,
				ClientID:          pk,
				ServerID:          pk,
			}
		}
	}

	if conflictErr := e.probeUniqueness(ctx, entity, ownerID, cfg, client, pk, exists); conflictErr != nil {
		if conflictErr.autoMerged != nil {
			return conflictErr.autoMerged, nil
		}
		return nil, conflictErr.err
	}

	final := copyRecord(client)
	if !exists {
		stampCreatedAt(final, e.now())
	}
	if err := col.Put(ctx, ownerID, pk, final); err != nil {
		return nil, transientErr("write failed")
	}

	return &SyncResult{Created: !exists, ServerID: pk, Data: final}, nil
}

// ResolveConflict applies a client-chosen strategy to an outstanding conflict.
func (e *Engine) ResolveConflict(ctx context.Context, entity, ownerID, strategy string, clientData Record) (*ResolveResult, error) {
	cfg, ok := e.Registry[entity]
	if !ok {
		return nil, validationErr(fmt.Sprintf("unknown entity %q", entity))
	}

	col := e.Store.Collection(entity)
	pk := str(clientData, cfg.PrimaryKey)

	server, err := col.Get(ctx, ownerID, pk)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.Error().Err(err).Str("entity", entity).Str("pk", pk).Msg("resolve-conflict lookup failed")
			return nil, transientErr("lookup failed")
		}

		allowed := []string{conflict.ClientWins}
		if strategy != conflict.ClientWins {
			return nil, validationErr(fmt.Sprintf("strategy %q not allowed when no server record exists", strategy))
		}

		if conflictErr := e.probeUniqueness(ctx, entity, ownerID, cfg, clientData, pk, false); conflictErr != nil {
			if conflictErr.autoMerged != nil {
				return &ResolveResult{
					IsNew:              false,
					ResolutionStrategy: "same_" + entity + "_detected",
					ResolvedData:       conflictErr.autoMerged.Data,
					AllowedStrategies:  allowed,
					ClientID:           pk,
					ServerID:           conflictErr.autoMerged.ServerID,
				}, nil
			}
			return nil, conflictErr.err
		}

		resolved := copyRecord(clientData)
		stampCreatedAt(resolved, e.now())
		if err := col.Put(ctx, ownerID, pk, resolved); err != nil {
			return nil, transientErr("write failed")
		}
		return &ResolveResult{
			IsNew:              true,
			ResolutionStrategy: strategy,
			ResolvedData:       resolved,
			AllowedStrategies:  allowed,
			ClientID:           pk,
			ServerID:           pk,
		}, nil
	}

	allowed := []string{conflict.ClientWins, conflict.ServerWins, conflict.Merge}
	if cfg.HasIdentityDefiningSubset() {
		allowed = append(allowed, conflict.UpdateData)
	}
	if cfg.QuantityOps {
		allowed = append(allowed, conflict.SumQuantities, conflict.AverageQuantities)
	}
	if !contains(allowed, strategy) {
		return nil, validationErr(fmt.Sprintf("strategy %q not allowed for entity %q", strategy, entity))
	}

	if strategy == conflict.UpdateData {
		if conflictErr := e.probeUniqueness(ctx, entity, ownerID, cfg, clientData, pk, true); conflictErr != nil {
			if conflictErr.autoMerged == nil {
				return nil, conflictErr.err
			}
		}
	}

	resolved, err := conflict.Apply(entity, strategy, clientData, server, e.now)
	if err != nil {
		return nil, validationErr(err.Error())
	}

	if err := col.Put(ctx, ownerID, pk, resolved); err != nil {
		return nil, transientErr("write failed")
	}

	return &ResolveResult{
		IsNew:              false,
		ResolutionStrategy: strategy,
		ResolvedData:       resolved,
		AllowedStrategies:  allowed,
		ClientID:           pk,
		ServerID:           pk,
	}, nil
}

type uniquenessConflict struct {
	err        *Error
	autoMerged *SyncResult
}

// probeUniqueness looks for another record sharing a secondary-unique field
// (or tuple) value, ignoring hits whose primary key is selfPK. The probe is
// the same on create and on update: it does not compare against the stored
// record, so on an update an unchanged value is probed too.
func (e *Engine) probeUniqueness(ctx context.Context, entity, ownerID string, cfg EntityConfig, client Record, selfPK string, exists bool) *uniquenessConflict {
	col := e.Store.Collection(entity)

	for _, spec := range cfg.SecondaryUnique {
		if len(spec.Fields) == 0 {
			continue
		}

		// A tuple is unique only when every one of its fields is present;
		// two records both missing the same field are not a collision, so
		// a single unset field clears the whole spec on both the create
		// and the update path.
		anyUnset := false
		for _, f := range spec.Fields {
			if v, ok := client[f]; !ok || v == nil || v == "" {
				anyUnset = true
				break
			}
		}
		if anyUnset {
			continue
		}

		hits, err := col.WhereEquals(ctx, ownerID, spec.Fields[0], client[spec.Fields[0]])
		if err != nil {
			return &uniquenessConflict{err: transientErr("uniqueness probe failed")}
		}

		for _, hit := range hits {
			if str(hit, cfg.PrimaryKey) == selfPK {
				continue
			}
			matches := true
			for _, f := range spec.Fields[1:] {
				if fmt.Sprintf("%v", hit[f]) != fmt.Sprintf("%v", client[f]) {
					matches = false
					break
				}
			}
			if !matches {
				continue
			}

			passwordMatch := false
			if entity == "user" && e.VerifyPassword != nil {
				if plaintext, ok := client["password"].(string); ok && plaintext != "" {
					if hash, ok := hit["password_hash"].(string); ok && hash != "" {
						passwordMatch = e.VerifyPassword(hash, plaintext)
					}
				}
			}

			sameEntity := identity.IsSameEntity(entity, client, hit, passwordMatch)
			hitPK := str(hit, cfg.PrimaryKey)

			if sameEntity {
				if !exists {
					merged := identity.AutoMerge(client, hit, cfg.PrimaryKey, e.now())
					if err := col.Put(ctx, ownerID, hitPK, merged); err != nil {
						return &uniquenessConflict{err: transientErr("auto-merge write failed")}
					}
					return &uniquenessConflict{autoMerged: &SyncResult{
						Created:    false,
						ResolvedAs: "same_" + entity + "_detected",
						ServerID:   hitPK,
						Data:       merged,
					}}
				}
				return &uniquenessConflict{err: &Error{
					Kind:              KindConflict,
					Message:           "potential duplicate",
					ConflictType:      "potential_duplicate_" + entity,
					LatestData:        hit,
					AllowedStrategies: []string{conflict.ClientWins, conflict.ServerWins, conflict.Merge},
					ClientID:          selfPK,
					ServerID:          hitPK,
				}}
			}

			allowed := []string{conflict.ClientWins}
			if exists {
				allowed = []string{conflict.ClientWins, conflict.ServerWins, conflict.Merge, conflict.UpdateData}
			}
			return &uniquenessConflict{err: &Error{
				Kind:              KindConflict,
				Message:           "unique constraint violation",
				ConflictType:      "unique_constraint",
				LatestData:        hit,
				AllowedStrategies: allowed,
				ClientID:          selfPK,
				ServerID:          hitPK,
			}}
		}
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// stampCreatedAt sets created_at on rec if the client didn't supply one,
// so every created record satisfies created_at <= updated_at.
func stampCreatedAt(rec Record, now time.Time) {
	if v, ok := rec["created_at"]; ok {
		if s, ok2 := v.(string); ok2 && s != "" {
			return
		}
	}
	rec["created_at"] = timestampkit.RFC3339(now)
}
