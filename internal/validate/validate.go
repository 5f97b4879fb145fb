// Package validate holds the pure per-entity field validators. Every
// validator is a plain function over a decoded JSON payload; none of them
// perform I/O.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^[+\d][\d\s\-]{8,14}$`)
)

// Error reports the single field that failed validation and why.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func fail(field, reason string) *Error {
	return &Error{Field: field, Reason: reason}
}

// Record is a decoded JSON entity payload.
type Record = map[string]any

func str(rec Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func num(rec Record, field string) (float64, bool) {
	v, ok := rec[field]
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
	default:
		return 0, false
	}
}

func requireString(rec Record, field string) *Error {
	s, ok := str(rec, field)
	if !ok || strings.TrimSpace(s) == "" {
		return fail(field, "required")
	}
	return nil
}

func requireEnum(rec Record, field string, allowed ...string) *Error {
	s, ok := str(rec, field)
	if !ok || strings.TrimSpace(s) == "" {
		return fail(field, "required")
	}
	lower := strings.ToLower(s)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return nil
		}
	}
	return fail(field, fmt.Sprintf("must be one of %v", allowed))
}

func optionalEnum(rec Record, field string, allowed ...string) *Error {
	s, ok := str(rec, field)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	lower := strings.ToLower(s)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return nil
		}
	}
	return fail(field, fmt.Sprintf("must be one of %v", allowed))
}

func validateEmail(rec Record, field string, required bool) *Error {
	s, ok := str(rec, field)
	if !ok || strings.TrimSpace(s) == "" {
		if required {
			return fail(field, "required")
		}
		return nil
	}
	if !emailRe.MatchString(strings.TrimSpace(s)) {
		return fail(field, "invalid email format")
	}
	return nil
}

func validatePhone(rec Record, field string, required bool) *Error {
	s, ok := str(rec, field)
	if !ok || strings.TrimSpace(s) == "" {
		if required {
			return fail(field, "required")
		}
		return nil
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 10 || digits > 15 || !phoneRe.MatchString(strings.TrimSpace(s)) {
		return fail(field, "invalid phone format")
	}
	return nil
}

func validatePersonName(rec Record, field string) *Error {
	s, ok := str(rec, field)
	if !ok {
		return fail(field, "required")
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || len(trimmed) > 100 {
		return fail(field, "must be 2-100 characters")
	}
	return nil
}

func validateAge(rec Record, field string) *Error {
	n, ok := num(rec, field)
	if !ok {
		return fail(field, "required")
	}
	if n != float64(int(n)) || n < 0 || n > 150 {
		return fail(field, "must be an integer in [0,150]")
	}
	return nil
}

func validateCoordinates(rec Record, latField, lngField string) *Error {
	lat, latOK := num(rec, latField)
	lng, lngOK := num(rec, lngField)
	if latOK != lngOK {
		return fail(latField, "latitude and longitude must both be present or both absent")
	}
	if !latOK {
		return nil
	}
	if lat < -90 || lat > 90 {
		return fail(latField, "must be in [-90,90]")
	}
	if lng < -180 || lng > 180 {
		return fail(lngField, "must be in [-180,180]")
	}
	return nil
}

func validateQuantity(rec Record, field string) *Error {
	n, ok := num(rec, field)
	if !ok {
		return fail(field, "required")
	}
	if n < 0 {
		return fail(field, "must be >= 0")
	}
	return nil
}

func requireUpdatedAt(rec Record) *Error {
	return requireString(rec, "updated_at")
}

// firstErr returns the first non-nil error among the given checks.
func firstErr(errs ...*Error) *Error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Validate validates a record for the named entity kind. Returns nil when
// the record is valid.
func Validate(entity string, rec Record) *Error {
	switch entity {
	case "user":
		return validateUser(rec)
	case "registration":
		return validateRegistration(rec)
	case "supply":
		return validateSupply(rec)
	case "task":
		return validateTask(rec)
	case "task_assignment":
		return validateTaskAssignment(rec)
	case "location":
		return validateLocation(rec)
	case "alert":
		return validateAlert(rec)
	case "notification":
		return validateNotification(rec)
	default:
		return fail("entity", "unknown entity kind")
	}
}

func validateUser(rec Record) *Error {
	return firstErr(
		requireString(rec, "user_id"),
		requireString(rec, "name"),
		validateEmail(rec, "email", true),
		validatePhone(rec, "phone_number", false),
		requireEnum(rec, "role", "admin", "fieldworker", "volunteer", "coordinator"),
		requireUpdatedAt(rec),
	)
}

func validateRegistration(rec Record) *Error {
	return firstErr(
		requireString(rec, "registration_id"),
		requireString(rec, "user_id"),
		validatePersonName(rec, "person_name"),
		validateAge(rec, "age"),
		requireEnum(rec, "gender", "male", "female", "other", "prefer_not_to_say"),
		requireString(rec, "location_id"),
		optionalEnum(rec, "status", "pending", "in_progress", "completed", "transferred", "discharged"),
		requireUpdatedAt(rec),
	)
}

func validateSupply(rec Record) *Error {
	return firstErr(
		requireString(rec, "supply_id"),
		requireString(rec, "user_id"),
		requireString(rec, "item_name"),
		validateQuantity(rec, "quantity"),
		requireString(rec, "expiry_date"),
		requireString(rec, "location_id"),
		optionalEnum(rec, "status", "active", "expired", "used"),
		requireUpdatedAt(rec),
	)
}

func validateTask(rec Record) *Error {
	return firstErr(
		requireString(rec, "task_id"),
		requireString(rec, "title"),
		optionalEnum(rec, "status", "todo", "pending", "in_progress", "review", "completed", "cancelled"),
		optionalEnum(rec, "priority", "low", "normal", "high"),
		requireString(rec, "created_by"),
		requireString(rec, "due_date"),
		requireUpdatedAt(rec),
	)
}

func validateTaskAssignment(rec Record) *Error {
	return firstErr(
		requireString(rec, "assignment_id"),
		requireString(rec, "task_id"),
		requireString(rec, "user_id"),
		requireString(rec, "assigned_at"),
		optionalEnum(rec, "status", "assigned", "accepted", "in_progress", "completed", "rejected", "declined"),
		requireUpdatedAt(rec),
	)
}

func validateLocation(rec Record) *Error {
	return firstErr(
		requireString(rec, "location_id"),
		requireString(rec, "user_id"),
		requireString(rec, "name"),
		requireEnum(rec, "type", "hospital", "clinic", "pharmacy", "laboratory", "emergency", "other"),
		validateCoordinates(rec, "latitude", "longitude"),
		requireUpdatedAt(rec),
	)
}

func validateAlert(rec Record) *Error {
	return firstErr(
		requireString(rec, "alert_id"),
		requireString(rec, "user_id"),
		requireString(rec, "type"),
		requireString(rec, "location_id"),
		requireString(rec, "description"),
		optionalEnum(rec, "priority", "low", "normal", "high"),
		optionalEnum(rec, "sent_via", "app", "sms", "email"),
		requireUpdatedAt(rec),
	)
}

func validateNotification(rec Record) *Error {
	return firstErr(
		requireString(rec, "notification_id"),
		requireString(rec, "user_id"),
		requireString(rec, "title"),
		requireUpdatedAt(rec),
	)
}
