package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bellwetherhq/bellwether/pkg/llms"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
)

const questionPromptTemplate = `You are testing an API tool as part of a behavioral audit.

Tool: %s
Description: %s
Input schema:
%s

%s

Generate up to %d test questions for this tool. Respond with a JSON array only, no prose. Each element:
{
  "question": "what this test probes, one sentence",
  "category": "happy_path" | "edge_case" | "error" | "security",
  "args": { ... arguments matching the schema, or intentionally invalid for error/security tests ... },
  "expectedOutcome": "success" | "error" | "either"
}

Cover at least one happy_path case. For error and security cases the args may deliberately violate the schema.`

// GenerateQuestions asks the LLM for test cases shaped by the persona, then
// validates happy-path arguments against the tool's input schema. Cases
// whose args fail validation despite expecting success are demoted to
// edge_case with outcome either, since the server may still accept them.
func GenerateQuestions(ctx context.Context, provider llms.Provider, persona Persona, tool mcp.Tool, maxQuestions int) ([]Question, error) {
	schema := "{}"
	if len(tool.InputSchema) > 0 {
		schema = string(tool.InputSchema)
	}

	prompt := fmt.Sprintf(questionPromptTemplate,
		tool.Name, tool.Description, schema, persona.Guidance, maxQuestions)

	text, err := provider.Chat(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: prompt},
	}, &llms.Options{
		SystemPrompt:   persona.SystemPrompt,
		ResponseFormat: llms.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	questions, err := llms.ParseJSON[[]Question](text)
	if err != nil {
		return nil, err
	}

	validator := newArgValidator(tool.InputSchema)
	out := questions[:0]
	for _, q := range normalizeQuestions(questions, maxQuestions) {
		if q.Category == CategoryHappyPath && q.ExpectedOutcome == ExpectSuccess {
			if ok, reason := validator.validate(q.Args); !ok {
				slog.Debug("Generated args fail schema, demoting question",
					"tool", tool.Name,
					"persona", persona.ID,
					"reason", reason,
				)
				q.Category = CategoryEdgeCase
				q.ExpectedOutcome = ExpectEither
			}
		}
		out = append(out, q)
	}
	return out, nil
}

func normalizeQuestions(questions []Question, max int) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.Question == "" {
			continue
		}
		switch q.Category {
		case CategoryHappyPath, CategoryEdgeCase, CategoryError, CategorySecurity:
		default:
			q.Category = CategoryEdgeCase
		}
		switch q.ExpectedOutcome {
		case ExpectSuccess, ExpectError, ExpectEither:
		default:
			if q.Category == CategoryError || q.Category == CategorySecurity {
				q.ExpectedOutcome = ExpectError
			} else {
				q.ExpectedOutcome = ExpectSuccess
			}
		}
		if q.Args == nil {
			q.Args = map[string]any{}
		}
		out = append(out, q)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// argValidator wraps a compiled JSON schema; a nil or uncompilable schema
// accepts everything.
type argValidator struct {
	schema *gojsonschema.Schema
}

func newArgValidator(raw []byte) *argValidator {
	if len(raw) == 0 {
		return &argValidator{}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		slog.Debug("Tool schema does not compile, skipping arg validation", "error", err)
		return &argValidator{}
	}
	return &argValidator{schema: schema}
}

func (v *argValidator) validate(args map[string]any) (bool, string) {
	if v.schema == nil {
		return true, ""
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return true, ""
	}
	if result.Valid() {
		return true, ""
	}

	var reasons []string
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return false, strings.Join(reasons, "; ")
}
