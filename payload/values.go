package payload

import (
	"encoding/json"
	"math"
	"strings"
)

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		if strings.ContainsAny(n.String(), ".eE") {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float32:
		return true
	case float64:
		return !math.IsNaN(n)
	}
	return isInteger(v)
}

// Int returns an integer field. ok is false when the field is absent or not
// an integer.
func Int(body map[string]any, name string) (int64, bool) {
	v, present := body[name]
	if !present || !isInteger(v) {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, _ := n.Int64()
		return i, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// Float returns a numeric field as float64.
func Float(body map[string]any, name string) (float64, bool) {
	v, present := body[name]
	if !present || !isNumber(v) {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f, true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	i, _ := Int(body, name)
	return float64(i), true
}

// Str returns a string field.
func Str(body map[string]any, name string) (string, bool) {
	s, ok := body[name].(string)
	return s, ok
}

// Bool returns a boolean field.
func Bool(body map[string]any, name string) (bool, bool) {
	b, ok := body[name].(bool)
	return b, ok
}

// Plain converts json.Number values back to int64 or float64 so the body
// can be echoed or stored without the decoder's representation leaking.
func Plain(v any) any {
	switch n := v.(type) {
	case json.Number:
		if isInteger(n) {
			i, _ := n.Int64()
			return i
		}
		f, _ := n.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = Plain(val)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = Plain(val)
		}
		return out
	}
	return v
}
