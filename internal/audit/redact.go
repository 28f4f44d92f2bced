package audit

import "strings"

const redactedValue = "***REDACTED***"

const maxRedactDepth = 10

// secretFieldNames are the detail-map keys whose values are replaced
// regardless of type, matched case-insensitively against substrings.
var secretFieldNames = []string{
	"password", "secret", "token", "api_key", "apikey", "authorization",
	"credential", "private_key", "privatekey", "access_key",
}

func looksSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range secretFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// Redact returns a copy of details with secret-shaped fields replaced by
// ***REDACTED***, recursing into nested maps and slices up to
// maxRedactDepth levels. Beyond that depth, remaining nested structures are
// collapsed to the redacted marker rather than traversed further.
func Redact(details map[string]any) map[string]any {
	return redactMap(details, 0)
}

func redactMap(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case looksSecret(k):
			out[k] = redactedValue
		case depth >= maxRedactDepth:
			out[k] = redactedValue
		default:
			out[k] = redactValue(v, depth+1)
		}
	}
	return out
}

func redactValue(v any, depth int) any {
	if depth > maxRedactDepth {
		return redactedValue
	}
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val, depth)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}
