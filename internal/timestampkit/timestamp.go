// Package timestampkit converts the timestamp representations that can show
// up on a sync record (ISO-8601 strings from clients, Postgres timestamptz
// values on read, numeric epoch millis from older clients) into a single
// comparable instant.
package timestampkit

import (
	"fmt"
	"strconv"
	"time"
)

// ToInstant converts x to a comparable instant. It accepts a time.Time, an
// RFC3339 string, a numeric string or float64 of Unix milliseconds, or nil.
// Returns ok=false when x is nil or cannot be parsed.
func ToInstant(x any) (time.Time, bool) {
	switch v := x.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		return parseString(v)
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	default:
		return time.Time{}, false
	}
}

func parseString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// RFC3339 formats t as an RFC3339Nano string in UTC.
func RFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NowUTC returns the current instant truncated to microsecond precision,
// matching Postgres timestamptz resolution.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Cmp reports whether a is before (-1), equal to (0), or after (1) b.
func Cmp(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// ResolveForStaleness converts a record's updated_at field to an instant for
// the sync engine's staleness check. Per the documented contract, a missing
// or unparseable updated_at is treated as "equal to now" so the client wins
// by default rather than being rejected outright.
func ResolveForStaleness(v any) time.Time {
	if t, ok := ToInstant(v); ok {
		return t
	}
	return NowUTC()
}

// MustParse parses an RFC3339 timestamp and panics on error; only meant for
// constructing fixtures in tests.
func MustParse(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(fmt.Sprintf("timestampkit: invalid fixture timestamp %q: %v", s, err))
	}
	return t.UTC()
}
