package interview

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/mcp"
)

func schemaTool(name, schema string) mcp.Tool {
	t := mcp.Tool{Name: name}
	if schema != "" {
		t.InputSchema = json.RawMessage(schema)
	}
	return t
}

func TestStructuralQuestions_NoParameters(t *testing.T) {
	questions := StructuralQuestions(schemaTool("ping", `{"type":"object"}`), 10)

	require.Len(t, questions, 1)
	assert.Equal(t, CategoryHappyPath, questions[0].Category)
	assert.Equal(t, ExpectSuccess, questions[0].ExpectedOutcome)
	assert.Empty(t, questions[0].Args)
}

func TestStructuralQuestions_FullCoverage(t *testing.T) {
	tool := schemaTool("search", `{
		"type": "object",
		"properties": {
			"q":       {"type": "string"},
			"limit":   {"type": "integer"},
			"verbose": {"type": "boolean"}
		},
		"required": ["q"]
	}`)

	questions := StructuralQuestions(tool, 0)

	// Representative call, required-only call, two string boundaries, two
	// numeric boundaries, one missing-required probe. Booleans contribute
	// no boundaries.
	require.Len(t, questions, 7)

	rep := questions[0]
	assert.Equal(t, CategoryHappyPath, rep.Category)
	assert.Len(t, rep.Args, 3, "representative call covers every parameter")
	assert.Equal(t, true, rep.Args["verbose"])
	assert.Equal(t, 1, rep.Args["limit"])

	minimal := questions[1]
	assert.Equal(t, CategoryHappyPath, minimal.Category)
	assert.Equal(t, map[string]any{"q": "test value"}, minimal.Args)

	var edges, errors int
	for _, q := range questions[2:] {
		switch q.Category {
		case CategoryEdgeCase:
			edges++
			assert.Equal(t, ExpectEither, q.ExpectedOutcome)
		case CategoryError:
			errors++
			assert.Equal(t, ExpectError, q.ExpectedOutcome)
			assert.NotContains(t, q.Args, "q", "missing-required probe drops the parameter")
		}
	}
	assert.Equal(t, 4, edges)
	assert.Equal(t, 1, errors)
}

func TestStructuralQuestions_ClipsToMax(t *testing.T) {
	tool := schemaTool("search", `{
		"properties": {"a": {"type": "string"}, "b": {"type": "string"}},
		"required": ["a"]
	}`)

	questions := StructuralQuestions(tool, 3)
	require.Len(t, questions, 3)
	assert.Equal(t, CategoryHappyPath, questions[0].Category, "representative call survives clipping")
}

func TestRepresentative_SchemaHints(t *testing.T) {
	tool := schemaTool("create", `{
		"properties": {
			"status":   {"type": "string", "enum": ["draft", "live"]},
			"count":    {"type": "integer", "minimum": 5},
			"owner_id": {"type": "string"},
			"email":    {"type": "string"},
			"webhook_url": {"type": "string"},
			"tags":     {"type": "array", "items": {"type": "string"}},
			"when":     {"type": "string", "default": "now"}
		}
	}`)

	args := StructuralQuestions(tool, 0)[0].Args
	assert.Equal(t, "draft", args["status"], "first enum value wins")
	assert.Equal(t, float64(5), args["count"], "minimum bounds the representative")
	assert.Equal(t, "test-id", args["owner_id"])
	assert.Equal(t, "test@example.com", args["email"])
	assert.Equal(t, "https://example.com", args["webhook_url"])
	assert.Equal(t, []any{"test value"}, args["tags"])
	assert.Equal(t, "now", args["when"], "default beats heuristics")
}
