package baseline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaHash_SemanticEquivalence(t *testing.T) {
	a := json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string"}, "age": {"type": "integer", "minimum": 0}},
		"required": ["name", "age"]
	}`)
	b := json.RawMessage(`{
		"required": ["age", "name"],
		"properties": {"age": {"minimum": 0.0, "type": "integer"}, "name": {"type": "string"}},
		"type": "object"
	}`)

	require.Equal(t, SchemaHash(a), SchemaHash(b),
		"key order, required order, and integer spelling are not drift")
	assert.Len(t, SchemaHash(a), 16)
}

func TestSchemaHash_RealChangesChangeTheHash(t *testing.T) {
	base := json.RawMessage(`{"properties":{"q":{"type":"string"}},"required":["q"]}`)
	changed := json.RawMessage(`{"properties":{"q":{"type":"string","maxLength":10}},"required":["q"]}`)

	assert.NotEqual(t, SchemaHash(base), SchemaHash(changed))
}

func TestResponseFingerprint_ValuesDoNotParticipate(t *testing.T) {
	a := map[string]any{"id": "abc", "count": 1, "tags": []any{"x"}}
	b := map[string]any{"id": "zzz", "count": 999, "tags": []any{"y", "z"}}

	assert.Equal(t, ResponseFingerprint(a), ResponseFingerprint(b),
		"same shape, different values")
}

func TestResponseFingerprint_ShapeChangesAreVisible(t *testing.T) {
	a := map[string]any{"id": "abc"}
	b := map[string]any{"id": "abc", "extra": true}
	c := map[string]any{"id": 1}

	assert.NotEqual(t, ResponseFingerprint(a), ResponseFingerprint(b))
	assert.NotEqual(t, ResponseFingerprint(a), ResponseFingerprint(c), "type of a field is part of the shape")
}

func TestResponseFingerprint_HomogeneousArraysCollapse(t *testing.T) {
	one := map[string]any{"items": []any{map[string]any{"id": "a"}}}
	many := map[string]any{"items": []any{
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
		map[string]any{"id": "c"},
	}}

	assert.Equal(t, ResponseFingerprint(one), ResponseFingerprint(many),
		"array length is not part of the shape")

	mixed := map[string]any{"items": []any{map[string]any{"id": "a"}, "loose string"}}
	assert.NotEqual(t, ResponseFingerprint(one), ResponseFingerprint(mixed))
}

func TestShapeOf_DepthBound(t *testing.T) {
	deep := any("leaf")
	for i := 0; i < 50; i++ {
		deep = map[string]any{"next": deep}
	}
	// Must terminate and produce a stable fingerprint.
	assert.NotEmpty(t, ResponseFingerprint(deep))
}
