// Package template substitutes {{key}} placeholders with values from an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context is the execution-scoped key/value store placeholders are resolved against.
type Context map[string]any

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute replaces every {{key}} in input with the matching context value.
// Keys may be dotted paths into nested maps. Unresolved placeholders are left verbatim.
func Substitute(input string, ctx Context) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]

		value, ok := Lookup(ctx, key)
		if !ok || value == nil {
			return match
		}

		return Stringify(value)
	})
}

// SubstituteValue walks maps and slices and substitutes every string found.
func SubstituteValue(value any, ctx Context) any {
	switch v := value.(type) {
	case string:
		return Substitute(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = SubstituteValue(item, ctx)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SubstituteValue(item, ctx)
		}

		return out
	default:
		return value
	}
}

// Lookup resolves a plain or dotted key. An exact key match wins over path traversal.
func Lookup(ctx Context, key string) (any, bool) {
	if value, ok := ctx[key]; ok {
		return value, true
	}

	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return nil, false
	}

	var current any = map[string]any(ctx)

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}

			current = next
		case Context:
			next, ok := node[part]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a context value the way it appears inside a substituted string.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any, Context:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(data)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
