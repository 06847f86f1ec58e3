// Package attrs provides helpers for reading values back out of slog-style
// alternating key/value attribute lists.
package attrs

import "fmt"

// ExtractString returns the value for key from an alternating key/value list,
// or "" when absent. Non-string values are stringified.
func ExtractString(attributes []any, key string) string {
	for i := 0; i+1 < len(attributes); i += 2 {
		k, ok := attributes[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attributes[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
