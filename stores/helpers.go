package stores

import (
	"strings"
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// isUniqueViolation matches unique-constraint errors across drivers by
// message text; sqlite says "UNIQUE constraint failed", MySQL "Duplicate
// entry", PostgreSQL "duplicate key value violates unique constraint".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanTime converts a driver value into a time.Time. SQLite hands back
// strings or byte slices; other drivers hand back time.Time.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanNullTime(raw interface{}) *time.Time {
	if raw == nil {
		return nil
	}
	t := scanTime(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanNullInt64(raw interface{}) *int64 {
	switch v := raw.(type) {
	case int64:
		return &v
	case int:
		n := int64(v)
		return &n
	case float64:
		n := int64(v)
		return &n
	}
	return nil
}

func nullTimeParam(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt64Param(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}
