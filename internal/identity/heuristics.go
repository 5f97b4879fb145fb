// Package identity implements the per-entity "is this the same real-world
// entity" predicates used to auto-resolve secondary-uniqueness
// collisions. Every predicate is a pure function over two decoded records;
// the one exception — the User password-match signal — takes the match
// result as a bool computed by the caller via AuthStore's hash-verify, so
// this package never sees a plaintext password or a password hash.
package identity

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a decoded JSON entity payload.
type Record = map[string]any

func str(r Record, field string) string {
	if v, ok := r[field]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return ""
}

func num(r Record, field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// lowerTrimContains reports a match when the lower-trimmed strings are
// equal or one contains the other.
func lowerTrimContains(a, b string) bool {
	a, b = lowerTrim(a), lowerTrim(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func exactCI(a, b string) bool {
	a, b = lowerTrim(a), lowerTrim(b)
	return a != "" && a == b
}

func exactValue(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return toComparable(a) == toComparable(b)
}

func toComparable(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// phoneDigitsLast10 compares the last 10 digits of two phone numbers.
func phoneDigitsLast10(a, b string) bool {
	da, db := digitsOnly(a), digitsOnly(b)
	if len(da) < 10 || len(db) < 10 {
		return false
	}
	return da[len(da)-10:] == db[len(db)-10:]
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func ageWithin1(a, b float64) bool {
	return math.Abs(a-b) <= 1
}

func coordsWithin(a, b float64, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func sameDay(a, b string) bool {
	ta, oka := parseDay(a)
	tb, okb := parseDay(b)
	if !oka || !okb {
		return false
	}
	return ta.Year() == tb.Year() && ta.Month() == tb.Month() && ta.Day() == tb.Day()
}

func parseDay(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// comparableField is one row of a per-entity comparator table used both for
// the match-ratio fallback and (selectively) for primary-criterion checks.
type comparableField struct {
	field string
	match func(client, server Record) bool
}

func fieldStr(field string, cmp func(a, b string) bool) comparableField {
	return comparableField{field: field, match: func(c, s Record) bool {
		return cmp(str(c, field), str(s, field))
	}}
}

func fieldNum(field string, cmp func(a, b float64) bool) comparableField {
	return comparableField{field: field, match: func(c, s Record) bool {
		cv, cok := num(c, field)
		sv, sok := num(s, field)
		if !cok || !sok {
			return false
		}
		return cmp(cv, sv)
	}}
}

func fieldExact(field string) comparableField {
	return comparableField{field: field, match: func(c, s Record) bool {
		return exactValue(c[field], s[field])
	}}
}

// matchRatio returns the fraction of comparable fields that match.
func matchRatio(fields []comparableField, client, server Record) float64 {
	if len(fields) == 0 {
		return 0
	}
	matches := 0
	for _, f := range fields {
		if f.match(client, server) {
			matches++
		}
	}
	return float64(matches) / float64(len(fields))
}

func countMatches(fields []comparableField, client, server Record) int {
	n := 0
	for _, f := range fields {
		if f.match(client, server) {
			n++
		}
	}
	return n
}

const matchRatioThreshold = 0.8

// userComparableFields: name, role, email, phone_number.
var userComparableFields = []comparableField{
	fieldStr("name", lowerTrimContains),
	fieldExact("role"),
	fieldStr("email", exactCI),
	fieldStr("phone_number", phoneDigitsLast10),
}

// registrationComparableFields: person_name, age, gender, contact, location_id.
var registrationComparableFields = []comparableField{
	fieldStr("person_name", lowerTrimContains),
	fieldNum("age", ageWithin1),
	fieldStr("gender", exactCI),
	fieldExact("contact"),
	fieldExact("location_id"),
}

var registrationCriticalFields = []comparableField{
	fieldStr("person_name", lowerTrimContains),
	fieldNum("age", ageWithin1),
	fieldStr("gender", exactCI),
}

// locationComparableFields: name, address, type, latitude, longitude.
var locationComparableFields = []comparableField{
	fieldStr("name", lowerTrimContains),
	fieldStr("address", lowerTrimContains),
	fieldExact("type"),
	{field: "coordinates", match: func(c, s Record) bool {
		clat, clatOK := num(c, "latitude")
		clng, clngOK := num(c, "longitude")
		slat, slatOK := num(s, "latitude")
		slng, slngOK := num(s, "longitude")
		if !clatOK || !clngOK || !slatOK || !slngOK {
			return false
		}
		return coordsWithin(clat, slat, 0.001) && coordsWithin(clng, slng, 0.001)
	}},
}

var locationCriticalFields = []comparableField{
	fieldStr("address", lowerTrimContains),
	fieldExact("type"),
	{field: "coordinates", match: locationComparableFields[3].match},
}

// taskComparableFields: title, location_id, created_by, due_date, priority.
var taskComparableFields = []comparableField{
	fieldStr("title", lowerTrimContains),
	fieldExact("location_id"),
	fieldExact("created_by"),
	fieldExact("due_date"),
	fieldExact("priority"),
}

var taskCriticalFields = []comparableField{
	fieldExact("location_id"),
	fieldExact("created_by"),
	fieldExact("due_date"),
	fieldExact("priority"),
}

// taskAssignmentComparableFields: task_id, user_id, assigned_by, assigned_at, status.
var taskAssignmentComparableFields = []comparableField{
	fieldExact("task_id"),
	fieldExact("user_id"),
	fieldExact("assigned_by"),
	fieldStr("assigned_at", sameDay),
	fieldExact("status"),
}

// supplyComparableFields: item_name, barcode, sku, category, unit, location_id.
var supplyComparableFields = []comparableField{
	fieldStr("item_name", lowerTrimContains),
	fieldExact("barcode"),
	fieldExact("sku"),
	fieldExact("category"),
	fieldExact("unit"),
	fieldExact("location_id"),
}

// IsSameEntity evaluates spec §4.6 for the given entity kind. passwordMatch
// is only consulted for entity == "user" and must come from AuthStore's
// hash-verify of the client's plaintext password against the server
// record's stored hash — never a direct hash/plaintext comparison here.
func IsSameEntity(entity string, client, server Record, passwordMatch bool) bool {
	switch entity {
	case "user":
		if str(client, "user_id") != "" && str(client, "user_id") == str(server, "user_id") {
			return true
		}
		if passwordMatch {
			return true
		}
		return matchRatio(userComparableFields, client, server) >= matchRatioThreshold

	case "registration":
		nameEq := lowerTrimContains(str(client, "person_name"), str(server, "person_name"))
		genderEq := exactCI(str(client, "gender"), str(server, "gender"))
		if nameEq && genderEq && countMatches(registrationCriticalFields, client, server) >= 2 {
			return true
		}
		return matchRatio(registrationComparableFields, client, server) >= matchRatioThreshold

	case "location":
		nameEq := lowerTrimContains(str(client, "name"), str(server, "name"))
		addressEq := lowerTrimContains(str(client, "address"), str(server, "address"))
		if nameEq && (addressEq || countMatches(locationCriticalFields, client, server) >= 2) {
			return true
		}
		return matchRatio(locationComparableFields, client, server) >= matchRatioThreshold

	case "task":
		titleEq := lowerTrimContains(str(client, "title"), str(server, "title"))
		if titleEq && countMatches(taskCriticalFields, client, server) >= 2 {
			return true
		}
		return matchRatio(taskComparableFields, client, server) >= matchRatioThreshold

	case "task_assignment":
		if exactValue(client["task_id"], server["task_id"]) && exactValue(client["user_id"], server["user_id"]) {
			return true
		}
		return matchRatio(taskAssignmentComparableFields, client, server) >= matchRatioThreshold

	case "supply":
		barcode := str(client, "barcode")
		sku := str(client, "sku")
		if (barcode != "" && barcode == str(server, "barcode")) || (sku != "" && sku == str(server, "sku")) {
			return true
		}
		return matchRatio(supplyComparableFields, client, server) >= matchRatioThreshold

	case "alert":
		return false

	default:
		return false
	}
}

// AutoMerge builds the auto-merge record per spec §4.6: server overlaid by
// client, primary key pinned to the server's, updated_at set to now.
func AutoMerge(client, server Record, primaryKeyField string, now time.Time) Record {
	merged := make(Record, len(server)+len(client))
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range client {
		merged[k] = v
	}
	merged[primaryKeyField] = server[primaryKeyField]
	merged["updated_at"] = now.UTC().Format(time.RFC3339Nano)
	return merged
}
