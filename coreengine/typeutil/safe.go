// Package typeutil provides safe coercion helpers for loosely typed configuration values.
//
// Flow definitions arrive from YAML, HCL or JSON, so the same property may be
// a string, an int or a float64. These helpers use the comma-ok idiom and never panic.
package typeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SafeMapStringAny safely asserts value to map[string]any.
// Maps decoded by yaml.v3 with non-string keys are converted.
func SafeMapStringAny(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// SafeString coerces scalars to their string form.
func SafeString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// SafeStringDefault returns defaultVal when value cannot be coerced.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// SafeInt coerces numbers and numeric strings to int.
// Also handles float64 (common from JSON unmarshaling).
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

// SafeIntDefault returns defaultVal when value cannot be coerced.
func SafeIntDefault(value any, defaultVal int) int {
	if i, ok := SafeInt(value); ok {
		return i
	}
	return defaultVal
}

// SafeBool coerces bools and "true"/"false" strings.
func SafeBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// SafeBoolDefault returns defaultVal when value cannot be coerced.
func SafeBoolDefault(value any, defaultVal bool) bool {
	if b, ok := SafeBool(value); ok {
		return b
	}
	return defaultVal
}

// SafeDuration coerces durations, duration strings and integer milliseconds.
func SafeDuration(value any) (time.Duration, bool) {
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case int, int32, int64, float64, float32:
		ms, _ := SafeInt(v)
		return time.Duration(ms) * time.Millisecond, true
	case string:
		d, err := ParseDuration(v)
		return d, err == nil
	default:
		return 0, false
	}
}

// SafeDurationDefault returns defaultVal when value cannot be coerced.
func SafeDurationDefault(value any, defaultVal time.Duration) time.Duration {
	if d, ok := SafeDuration(value); ok {
		return d
	}
	return defaultVal
}

// SafeStringSlice coerces []string, []any of scalars, or a comma separated string.
func SafeStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := SafeString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, true
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
