package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

type judgment struct {
	Correct   bool   `json:"correct"`
	Reasoning string `json:"reasoning"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"bare object", `{"correct": true, "reasoning": "as expected"}`},
		{"fenced json block", "```json\n{\"correct\": true, \"reasoning\": \"as expected\"}\n```"},
		{"fence without language", "```\n{\"correct\": true, \"reasoning\": \"as expected\"}\n```"},
		{"prose around the payload", `Sure, here is my judgment: {"correct": true, "reasoning": "as expected"} Hope that helps!`},
		{"prose and fence", "The call looks fine.\n```json\n{\"correct\": true, \"reasoning\": \"as expected\"}\n```\nLet me know."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON[judgment](tt.text)
			require.NoError(t, err)
			assert.Equal(t, judgment{Correct: true, Reasoning: "as expected"}, got)
		})
	}
}

func TestParseJSON_Failures(t *testing.T) {
	_, err := ParseJSON[judgment]("I cannot answer that.")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeLLMParse, errdefs.CodeOf(err))

	_, err = ParseJSON[judgment](`{"correct": "not a bool"}`)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeLLMParse, errdefs.CodeOf(err))
}

func TestExtractJSON(t *testing.T) {
	t.Run("braces inside strings do not unbalance", func(t *testing.T) {
		text := `{"note": "a } inside", "n": 1} trailing`
		assert.Equal(t, `{"note": "a } inside", "n": 1}`, ExtractJSON(text))
	})

	t.Run("escaped quotes stay inside the string", func(t *testing.T) {
		text := `{"note": "she said \"}\"", "n": 1}`
		assert.Equal(t, text, ExtractJSON(text))
	})

	t.Run("arrays work", func(t *testing.T) {
		assert.Equal(t, `[1, 2, 3]`, ExtractJSON(`the values are [1, 2, 3] as shown`))
	})

	t.Run("nested objects", func(t *testing.T) {
		text := `{"a": {"b": {"c": 1}}}`
		assert.Equal(t, text, ExtractJSON("prefix "+text))
	})

	t.Run("unterminated payload yields nothing", func(t *testing.T) {
		assert.Empty(t, ExtractJSON(`{"a": 1`))
	})

	t.Run("non-json fence falls back to the full text", func(t *testing.T) {
		text := "```python\nprint('hi')\n```\n{\"a\": 1}"
		assert.Equal(t, `{"a": 1}`, ExtractJSON(text))
	})
}
