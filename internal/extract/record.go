package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a decoded JSON object with lenient typed accessors. LLM output
// mixes numbers, numeric strings and nulls, so every getter tolerates the
// wrong type by reporting absence.
type Record map[string]any

// Has reports whether key is present and not null.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the string value of key, or "" if absent or not a string.
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// StringOr returns the string value of key, or def if absent or empty.
func (r Record) StringOr(key, def string) string {
	if s := r.String(key); s != "" {
		return s
	}
	return def
}

// Float returns the numeric value of key. Numeric strings are parsed.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the integer value of key.
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	return int(f), ok
}

// Strings returns key as a string slice. Non-string elements are
// formatted; a single string becomes a one-element slice.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// List returns key as a raw slice.
func (r Record) List(key string) []any {
	v, _ := r[key].([]any)
	return v
}

// Records returns the object elements of key, skipping anything else.
func (r Record) Records(key string) []Record {
	var out []Record
	for _, item := range r.List(key) {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Map returns key as a nested record.
func (r Record) Map(key string) Record {
	if m, ok := r[key].(map[string]any); ok {
		return Record(m)
	}
	return nil
}
