// Package resource defines the opaque record type shared by the state
// store, the redactor and the snapshot pipeline. A Resource is a plain
// JSON-shaped map; everything that crosses a fake's wire boundary is one.
package resource

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Resource is an opaque record: field name → JSON-compatible value.
type Resource map[string]interface{}

// Type tags a resource collection, e.g. "users" or "repos".
type Type = string

// ID returns the resource's stable identifier as a string. Numeric ids
// are normalized (JSON decodes them as float64).
func (r Resource) ID() (string, bool) {
	v, ok := r["id"]
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Stringify renders an id-like value the way the wire format does:
// integral floats without a decimal point, everything else via Sprintf.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseIntID parses an id that represents an integer. Non-integer ids
// return ok=false; they simply don't participate in counter seeding.
func ParseIntID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DeepCopy clones a resource so callers may mutate freely without
// corrupting the shared baseline layer.
func (r Resource) DeepCopy() Resource {
	if r == nil {
		return nil
	}
	return Resource(copyValue(map[string]interface{}(r)).(map[string]interface{}))
}

// CopyValue deep-copies any JSON-shaped value tree.
func CopyValue(v interface{}) interface{} {
	return copyValue(v)
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return v
	}
}
