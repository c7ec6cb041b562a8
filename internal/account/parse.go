package account

import (
	"encoding/json"
	"strconv"
	"strings"
)

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', 0, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func floatOrZero(v any) float64 {
	f, _ := floatFromAny(v)
	return f
}

func boolFromAny(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(val))
		return parsed
	default:
		return false
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		i, _ := val.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i
	}
	return 0
}

func listFrom(payload any, keys ...string) []map[string]any {
	var raw []any
	switch val := payload.(type) {
	case []any:
		raw = val
	case map[string]any:
		for _, key := range keys {
			if list, ok := val[key].([]any); ok {
				raw = list
				break
			}
		}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
