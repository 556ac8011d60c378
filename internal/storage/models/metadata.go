package models

import (
	"encoding/json"
	"math"
)

// Metadata carries every original CSV column of a trace. Values coerced to
// floats during import can be NaN or infinite; JSON has no representation
// for either, so marshaling substitutes null recursively.
type Metadata map[string]interface{}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(sanitizeMap(m))
}

// Sanitize returns a copy with every NaN and infinite float replaced by nil,
// including inside nested maps and slices.
func (m Metadata) Sanitize() Metadata {
	return sanitizeMap(m)
}

func sanitizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case Metadata:
		return sanitizeMap(x)
	case map[string]interface{}:
		return sanitizeMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}
