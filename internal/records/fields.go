package records

import (
	"encoding/json"
	"fmt"
	"time"
)

// String returns a string field or "".
func (r Record) String(field string) string {
	if s, ok := r.Fields[field].(string); ok {
		return s
	}
	return ""
}

// Bool returns a bool field or false.
func (r Record) Bool(field string) bool {
	b, _ := r.Fields[field].(bool)
	return b
}

// Time parses an RFC 3339 field. Missing or malformed values yield the zero time.
func (r Record) Time(field string) time.Time {
	switch v := r.Fields[field].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// Strings returns a string-list field. Both []string and decoded JSON arrays
// are accepted.
func (r Record) Strings(field string) []string {
	switch v := r.Fields[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns a nested object field.
func (r Record) Map(field string) map[string]any {
	m, _ := r.Fields[field].(map[string]any)
	return m
}

// Normalize round-trips fields through JSON so every store sees the same
// value types (strings, float64, bool, []any, map[string]any).
func Normalize(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

// FormatTime renders a timestamp for storage.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
