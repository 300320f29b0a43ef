package engine

import (
	"encoding/json"
	"strconv"
)

// Row maps a field name to its raw value as returned by an engine.
// Missing properties are absent or nil.
type Row map[string]any

// String returns field as a string, "" when missing or not textual.
func (r Row) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int64 returns field as an integer, 0 when missing or not numeric. Textual
// numbers are accepted since some stores hand back everything as text.
func (r Row) Int64(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
