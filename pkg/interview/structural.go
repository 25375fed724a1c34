package interview

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bellwetherhq/bellwether/pkg/mcp"
)

// StructuralQuestions synthesizes questions deterministically from a tool's
// input schema: one representative call covering every parameter, boundary
// variants per parameter type, and one missing-required probe. No LLM is
// involved, so the output is stable across runs.
func StructuralQuestions(tool mcp.Tool, maxQuestions int) []Question {
	schema := tool.InputSchema

	props := gjson.GetBytes(schema, "properties")
	required := make(map[string]bool)
	for _, r := range gjson.GetBytes(schema, "required").Array() {
		required[r.String()] = true
	}

	if !props.Exists() || len(props.Map()) == 0 {
		return clip([]Question{{
			Question:        fmt.Sprintf("Call %s with no arguments", tool.Name),
			Category:        CategoryHappyPath,
			Args:            map[string]any{},
			ExpectedOutcome: ExpectSuccess,
		}}, maxQuestions)
	}

	baseline := make(map[string]any)
	var names []string
	props.ForEach(func(key, prop gjson.Result) bool {
		names = append(names, key.String())
		baseline[key.String()] = representative(key.String(), prop)
		return true
	})

	questions := []Question{{
		Question:        fmt.Sprintf("Call %s with representative values for every parameter", tool.Name),
		Category:        CategoryHappyPath,
		Args:            baseline,
		ExpectedOutcome: ExpectSuccess,
	}}

	// Required-only call exercises the minimal contract.
	if len(required) > 0 && len(required) < len(names) {
		minimal := make(map[string]any)
		for name := range required {
			minimal[name] = baseline[name]
		}
		questions = append(questions, Question{
			Question:        fmt.Sprintf("Call %s with only the required parameters", tool.Name),
			Category:        CategoryHappyPath,
			Args:            minimal,
			ExpectedOutcome: ExpectSuccess,
		})
	}

	for _, name := range names {
		prop := props.Get(escapeKey(name))
		for _, b := range boundaries(name, prop) {
			args := cloneArgs(baseline)
			args[name] = b.value
			questions = append(questions, Question{
				Question:        fmt.Sprintf("Call %s with %s for parameter %q", tool.Name, b.label, name),
				Category:        CategoryEdgeCase,
				Args:            args,
				ExpectedOutcome: ExpectEither,
			})
		}
	}

	for name := range required {
		args := cloneArgs(baseline)
		delete(args, name)
		questions = append(questions, Question{
			Question:        fmt.Sprintf("Call %s without required parameter %q", tool.Name, name),
			Category:        CategoryError,
			Args:            args,
			ExpectedOutcome: ExpectError,
		})
		break
	}

	return clip(questions, maxQuestions)
}

type boundary struct {
	label string
	value any
}

func boundaries(name string, prop gjson.Result) []boundary {
	switch prop.Get("type").String() {
	case "string":
		return []boundary{
			{"an empty string", ""},
			{"a very long string", strings.Repeat("x", 10_000)},
		}
	case "integer", "number":
		return []boundary{
			{"zero", 0},
			{"a negative value", -1},
		}
	case "array":
		return []boundary{{"an empty array", []any{}}}
	case "boolean", "object":
		return nil
	default:
		return []boundary{{"an empty string", ""}}
	}
}

func representative(name string, prop gjson.Result) any {
	if def := prop.Get("default"); def.Exists() {
		return def.Value()
	}
	if enum := prop.Get("enum").Array(); len(enum) > 0 {
		return enum[0].Value()
	}

	switch prop.Get("type").String() {
	case "integer", "number":
		if min := prop.Get("minimum"); min.Exists() {
			return min.Value()
		}
		return 1
	case "boolean":
		return true
	case "array":
		items := prop.Get("items")
		if items.Exists() {
			return []any{representative(name, items)}
		}
		return []any{}
	case "object":
		return map[string]any{}
	default:
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, "id"):
			return "test-id"
		case strings.Contains(lower, "email"):
			return "test@example.com"
		case strings.Contains(lower, "url"), strings.Contains(lower, "uri"):
			return "https://example.com"
		case strings.Contains(lower, "path"), strings.Contains(lower, "file"):
			return "/tmp/test.txt"
		case strings.Contains(lower, "date"), strings.Contains(lower, "time"):
			return "2025-01-01T00:00:00Z"
		default:
			return "test value"
		}
	}
}

func escapeKey(key string) string {
	key = strings.ReplaceAll(key, ".", `\.`)
	return strings.ReplaceAll(key, "*", `\*`)
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func clip(questions []Question, max int) []Question {
	if max > 0 && len(questions) > max {
		return questions[:max]
	}
	return questions
}
