// Package conflict implements the pure conflict-resolution reducers:
// the four base strategies, the Supply-only quantity strategies, the
// status-lattice join, and the text-append merge rule.
package conflict

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fieldsync/syncserver/internal/timestampkit"
)

// Strategy names, exactly as accepted over the wire.
const (
	ClientWins        = "client_wins"
	ServerWins        = "server_wins"
	Merge             = "merge"
	UpdateData        = "update_data"
	SumQuantities     = "sum_quantities"
	AverageQuantities = "average_quantities"
)

// Record is a decoded JSON entity payload.
type Record = map[string]any

// criticalFields lists, per entity, the fields that the merge rule treats
// as identity-relevant (spec §4.8). The merge arithmetic itself applies the
// same newer-and-different rule to every field; this table backs IsCritical
// (update_data uses identityDefiningFields below, not this table).
var criticalFields = map[string][]string{
	"user":            {"email", "role", "password_hash"},
	"registration":    {"person_name", "age", "gender", "status"},
	"task":            {"title", "status"},
	"task_assignment": {"status"},
	"location":        {"name", "type"},
	"supply":          {"item_name", "category", "unit", "expiry_date", "status"},
	"alert":           {"type", "priority", "is_active"},
}

// identityDefiningFields lists the subset of fields that update_data
// preserves unchanged from the server record. Entities absent from this
// table have no identity-defining subset and do not offer update_data.
var identityDefiningFields = map[string][]string{
	"user":         {"email", "phone_number"},
	"registration": {"person_name", "age", "gender"},
	"location":     {"name"},
}

// statusField names the status column per entity that participates in the
// status-lattice join, when the entity has one.
var statusField = map[string]string{
	"task":            "status",
	"task_assignment": "status",
	"registration":    "status",
}

// statusLattice gives each status value's rank; higher ranks never regress
// during merge.
var statusLattice = map[string]map[string]int{
	"task": {
		"todo": 1, "pending": 1, "in_progress": 2, "review": 3,
		"completed": 4, "cancelled": 5,
	},
	"task_assignment": {
		"assigned": 1, "accepted": 2, "in_progress": 3,
		"completed": 4, "rejected": 5, "declined": 5,
	},
	"registration": {
		"pending": 1, "in_progress": 2, "completed": 3,
		"transferred": 4, "discharged": 5,
	},
}

// textAppendFields lists, per entity, the free-text fields that merge using
// append-on-conflict rather than newer-wins.
var textAppendFields = map[string][]string{
	"registration":    {"medical_history", "notes"},
	"task_assignment": {"notes"},
}

// HasIdentityDefiningSubset reports whether update_data is offered for entity.
func HasIdentityDefiningSubset(entity string) bool {
	_, ok := identityDefiningFields[entity]
	return ok
}

// IsCritical reports whether field is a critical field for entity.
func IsCritical(entity, field string) bool {
	for _, f := range criticalFields[entity] {
		if f == field {
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

// Apply applies the named strategy to the (client, server) pair for entity
// and returns the resolved record. now is used for every strategy that
// stamps updated_at with the current time rather than max(cT, sT).
func Apply(entity, strategy string, client, server Record, now func() time.Time) (Record, error) {
	switch strategy {
	case ClientWins:
		return copyRecord(client), nil
	case ServerWins:
		return copyRecord(server), nil
	case UpdateData:
		return applyUpdateData(entity, client, server, now())
	case Merge:
		return applyMerge(entity, client, server, now())
	case SumQuantities:
		if entity != "supply" {
			return nil, fmt.Errorf("sum_quantities is only valid for supply")
		}
		return applyQuantityCombine(client, server, now(), func(a, b float64) float64 { return a + b })
	case AverageQuantities:
		if entity != "supply" {
			return nil, fmt.Errorf("average_quantities is only valid for supply")
		}
		return applyQuantityCombine(client, server, now(), func(a, b float64) float64 {
			return math.Round((a + b) / 2)
		})
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

func applyUpdateData(entity string, client, server Record, now time.Time) (Record, error) {
	preserved, ok := identityDefiningFields[entity]
	if !ok {
		return nil, fmt.Errorf("update_data is not offered for entity %q", entity)
	}
	merged := copyRecord(server)
	for k, v := range client {
		merged[k] = v
	}
	for _, field := range preserved {
		if v, ok := server[field]; ok {
			merged[field] = v
		} else {
			delete(merged, field)
		}
	}
	merged["updated_at"] = timestampkit.RFC3339(now)
	return merged, nil
}

func applyQuantityCombine(client, server Record, now time.Time, combine func(a, b float64) float64) (Record, error) {
	merged := copyRecord(server)
	for k, v := range client {
		merged[k] = v
	}
	cQty, _ := toFloat(client["quantity"])
	sQty, _ := toFloat(server["quantity"])
	merged["quantity"] = combine(cQty, sQty)
	merged["updated_at"] = timestampkit.RFC3339(now)
	return merged, nil
}

func applyMerge(entity string, client, server Record, now time.Time) (Record, error) {
	cT := timestampkit.ResolveForStaleness(client["updated_at"])
	sT := timestampkit.ResolveForStaleness(server["updated_at"])
	clientNewer := timestampkit.Cmp(cT, sT) > 0

	merged := copyRecord(server)

	keys := make(map[string]struct{}, len(client)+len(server))
	for k := range client {
		keys[k] = struct{}{}
	}
	for k := range server {
		keys[k] = struct{}{}
	}

	statusF := statusField[entity]
	textFields := textAppendFields[entity]

	for k := range keys {
		if k == "updated_at" {
			continue
		}
		if k == statusF {
			continue // handled after the loop via statusJoin
		}
		if isTextAppendField(textFields, k) {
			continue // handled after the loop via textAppendMerge
		}
		if entity == "supply" && k == "quantity" {
			continue // handled after the loop via minimum
		}

		cv, cok := client[k]
		sv, sok := server[k]
		if clientNewer && cok && !equalValues(cv, sv) {
			merged[k] = cv
		} else if sok {
			merged[k] = sv
		} else if cok {
			merged[k] = cv
		}
	}

	if statusF != "" {
		lattice := statusLattice[entity]
		merged[statusF] = statusJoin(lattice, asString(client[statusF]), asString(server[statusF]))
	}

	for _, field := range textFields {
		merged[field] = textAppendMerge(asString(server[field]), asString(client[field]))
	}

	if entity == "supply" {
		cQty, cok := toFloat(client["quantity"])
		sQty, sok := toFloat(server["quantity"])
		switch {
		case cok && sok:
			merged["quantity"] = math.Min(cQty, sQty)
		case cok:
			merged["quantity"] = cQty
		case sok:
			merged["quantity"] = sQty
		}
	}

	mergedTime := cT
	if timestampkit.Cmp(sT, cT) > 0 {
		mergedTime = sT
	}
	merged["updated_at"] = timestampkit.RFC3339(mergedTime)

	return merged, nil
}

func isTextAppendField(fields []string, k string) bool {
	for _, f := range fields {
		if f == k {
			return true
		}
	}
	return false
}

// StatusJoin returns the higher-ranked status value between a and b, per
// entity's lattice. Missing on one side defers to the other. Exported for
// direct use/testing of the round-trip property statusJoin(a,b)=statusJoin(b,a).
func StatusJoin(entity, a, b string) string {
	return statusJoin(statusLattice[entity], a, b)
}

func statusJoin(lattice map[string]int, a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	ra, aok := lattice[strings.ToLower(a)]
	rb, bok := lattice[strings.ToLower(b)]
	if !aok {
		return b
	}
	if !bok {
		return a
	}
	if ra >= rb {
		return a
	}
	return b
}

// TextAppendMerge implements the free-text merge rule: identical or
// substring-contained text collapses to the longer side; otherwise the
// server text is kept with the client's update appended.
func TextAppendMerge(server, client string) string {
	return textAppendMerge(server, client)
}

func textAppendMerge(server, client string) string {
	if client == "" {
		return server
	}
	if server == "" {
		return client
	}
	if server == client {
		return server
	}
	if strings.Contains(server, client) {
		return server
	}
	if strings.Contains(client, server) {
		return client
	}
	return server + "\n\n[SYNC MERGE] Client update:\n" + client
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
