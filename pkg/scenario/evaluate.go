package scenario

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// AssertionResult is the outcome of one assertion against a response.
type AssertionResult struct {
	Assertion Assertion `json:"assertion"`
	Passed    bool      `json:"passed"`
	Actual    any       `json:"actual,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Evaluate runs each assertion against response. The response is encoded to
// JSON once; values with reference cycles fail every assertion rather than
// crashing the run.
func Evaluate(response any, assertions []Assertion) []AssertionResult {
	results := make([]AssertionResult, 0, len(assertions))

	raw, err := json.Marshal(response)
	if err != nil {
		for _, a := range assertions {
			results = append(results, AssertionResult{
				Assertion: a,
				Message:   fmt.Sprintf("response not encodable: %v", err),
			})
		}
		return results
	}

	for _, a := range assertions {
		results = append(results, evaluateOne(raw, a))
	}
	return results
}

// Passed reports whether every assertion in results passed.
func Passed(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func evaluateOne(raw []byte, a Assertion) AssertionResult {
	result := AssertionResult{Assertion: a}

	if a.Path == "" {
		result.Message = "empty path resolves to undefined"
		return result
	}

	value := gjson.GetBytes(raw, a.Path)
	if value.Exists() {
		result.Actual = value.Value()
	}

	switch a.Condition {
	case CondExists:
		result.Passed = value.Exists()
		if !result.Passed {
			result.Message = fmt.Sprintf("path %q not found", a.Path)
		}

	case CondEquals:
		if !value.Exists() {
			result.Message = fmt.Sprintf("path %q not found", a.Path)
			break
		}
		result.Passed = jsonEqual(value.Value(), a.Value)
		if !result.Passed {
			result.Message = fmt.Sprintf("expected %v, got %v", a.Value, value.Value())
		}

	case CondContains:
		result.Passed, result.Message = contains(value, a.Value)

	case CondTruthy:
		result.Passed = truthy(value)
		if !result.Passed {
			result.Message = fmt.Sprintf("value %v is not truthy", value.Value())
		}

	case CondType:
		want, _ := a.Value.(string)
		got := typeName(value)
		result.Passed = got == want
		if !result.Passed {
			result.Message = fmt.Sprintf("expected type %s, got %s", want, got)
		}

	case CondMatches:
		pattern, _ := a.Value.(string)
		if value.Type != gjson.String {
			result.Message = fmt.Sprintf("matches requires a string, got %s", typeName(value))
			break
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			result.Message = fmt.Sprintf("invalid pattern %q: %v", pattern, err)
			break
		}
		result.Passed = re.MatchString(value.String())
		if !result.Passed {
			result.Message = fmt.Sprintf("%q does not match %q", value.String(), pattern)
		}
	}

	return result
}

// typeName maps a resolved value to its JSON type. Null is distinct from
// missing.
func typeName(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	case gjson.JSON:
		if v.IsArray() {
			return "array"
		}
		return "object"
	default:
		return "undefined"
	}
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float() != 0
	case gjson.String:
		return v.String() != ""
	case gjson.JSON:
		return true
	default:
		return false
	}
}

func contains(v gjson.Result, want any) (bool, string) {
	if !v.Exists() {
		return false, "path not found"
	}

	switch {
	case v.Type == gjson.String:
		needle, ok := want.(string)
		if !ok {
			return false, "contains on a string requires a string value"
		}
		if strings.Contains(v.String(), needle) {
			return true, ""
		}
		return false, fmt.Sprintf("%q does not contain %q", v.String(), needle)

	case v.IsArray():
		for _, elem := range v.Array() {
			if jsonEqual(elem.Value(), want) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("array does not contain %v", want)

	case v.IsObject():
		key, ok := want.(string)
		if !ok {
			return false, "contains on an object requires a string key"
		}
		if v.Get(key).Exists() {
			return true, ""
		}
		return false, fmt.Sprintf("object has no key %q", key)

	default:
		return false, fmt.Sprintf("contains not applicable to %s", typeName(v))
	}
}

// jsonEqual compares two values after normalizing both through JSON, so
// int(1) from YAML equals float64(1) from a response.
func jsonEqual(a, b any) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var va, vb any
	if err := json.Unmarshal(ra, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(rb, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
