package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// hashHexLen is how much of the SHA-256 digest a baseline retains.
const hashHexLen = 16

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:hashHexLen]
}

// SchemaHash hashes a tool's input schema canonically: two schemas that
// differ only in key order, required/enum order, or integer-vs-float
// spelling hash identically.
func SchemaHash(schema json.RawMessage) string {
	return hashBytes(CanonicalizeRaw(schema))
}

// ResponseFingerprint summarizes the structural shape of a decoded tool
// response: the sorted key set with value kinds, recursively, hashed like a
// schema. Values themselves do not participate, so two responses with the
// same shape fingerprint identically.
func ResponseFingerprint(response any) string {
	shape := shapeOf(response, 0)
	raw, err := CanonicalJSON(shape)
	if err != nil {
		return ""
	}
	return hashBytes(raw)
}

const maxShapeDepth = 16

func shapeOf(v any, depth int) any {
	if depth > maxShapeDepth {
		return "..."
	}

	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		if len(t) == 0 {
			return []any{}
		}
		// Element shapes deduplicated: homogeneous arrays collapse to one.
		seen := make(map[string]any)
		for _, elem := range t {
			shape := shapeOf(elem, depth+1)
			raw, _ := CanonicalJSON(shape)
			seen[string(raw)] = shape
		}
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		shapes := make([]any, 0, len(keys))
		for _, k := range keys {
			shapes = append(shapes, seen[k])
		}
		return shapes
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[k] = shapeOf(elem, depth+1)
		}
		return out
	default:
		return strings.TrimPrefix(typeKind(t), "*")
	}
}

func typeKind(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "unknown"
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "unknown"
	}
	if s, ok := shapeOf(decoded, maxShapeDepth).(string); ok {
		return s
	}
	return "object"
}
