package llms

import (
	"encoding/json"
	"strings"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// ParseJSON decodes a JSON value embedded in model output. It strips fenced
// code blocks and tolerates prose before or after the JSON payload.
func ParseJSON[T any](text string) (T, error) {
	var out T

	candidate := ExtractJSON(text)
	if candidate == "" {
		return out, errdefs.New(errdefs.CodeLLMParse, "no JSON found in model output",
			errdefs.WithComponent("llms", "parse_json"))
	}

	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return out, errdefs.Wrap(errdefs.CodeLLMParse, "model output is not valid JSON", err,
			errdefs.WithComponent("llms", "parse_json"))
	}
	return out, nil
}

// ExtractJSON locates the first complete JSON object or array in text,
// preferring the contents of a fenced code block when one exists.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			lang := strings.TrimSpace(rest[:nl])
			if lang == "" || strings.EqualFold(lang, "json") {
				rest = rest[nl+1:]
				if end := strings.Index(rest, "```"); end >= 0 {
					if body := balancedJSON(strings.TrimSpace(rest[:end])); body != "" {
						return body
					}
				}
			}
		}
	}

	return balancedJSON(text)
}

// balancedJSON scans for the first balanced {...} or [...] span, respecting
// string literals and escapes.
func balancedJSON(text string) string {
	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	var open, close byte
	if text[start] == '{' {
		open, close = '{', '}'
	} else {
		open, close = '[', ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
