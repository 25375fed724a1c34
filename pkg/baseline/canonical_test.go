package baseline

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_KeyOrder(t *testing.T) {
	a := map[string]any{"zeta": 1, "alpha": 2, "mid": map[string]any{"b": 1, "a": 2}}
	out, err := CanonicalJSON(a)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zeta":1}`, string(out))
}

func TestCanonicalJSON_NumberCollapse(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"integral float collapses", map[string]any{"n": 1.0}, `{"n":1}`},
		{"int stays int", map[string]any{"n": 1}, `{"n":1}`},
		{"fraction survives", map[string]any{"n": 0.5}, `{"n":0.5}`},
		{"shortest round trip", map[string]any{"n": 0.1}, `{"n":0.1}`},
		{"negative integral", map[string]any{"n": -3.0}, `{"n":-3}`},
		{"huge float keeps exponent form", map[string]any{"n": 1e20}, `{"n":1e+20}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := CanonicalJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestCanonicalJSON_SetKeysSorted(t *testing.T) {
	schema := map[string]any{
		"required": []any{"zeta", "alpha", "mid"},
		"properties": map[string]any{
			"status": map[string]any{"enum": []any{"c", "a", "b"}},
		},
	}
	out, err := CanonicalJSON(schema)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"required":["alpha","mid","zeta"]`)
	assert.Contains(t, string(out), `"enum":["a","b","c"]`)
}

func TestCanonicalJSON_OrdinaryArraysKeepOrder(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"items": []any{"c", "a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, `{"items":["c","a","b"]}`, string(out))
}

func TestCanonicalJSON_CycleMarker(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	out, err := CanonicalJSON(cyclic)
	require.NoError(t, err)
	assert.Equal(t, `{"self":"__cycle__"}`, string(out))

	// A shared (but acyclic) subtree is not a cycle.
	shared := map[string]any{"x": 1}
	out, err = CanonicalJSON(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":1},"b":{"x":1}}`, string(out))
}

func TestCanonicalizeRaw(t *testing.T) {
	raw := json.RawMessage(`{"b": 2.0, "a": {"required": ["y", "x"]}}`)
	assert.Equal(t, `{"a":{"required":["x","y"]},"b":2}`, string(CanonicalizeRaw(raw)))

	// Invalid JSON passes through untouched.
	bad := json.RawMessage(`{"a":`)
	assert.Equal(t, bad, CanonicalizeRaw(bad))
	assert.Empty(t, CanonicalizeRaw(nil))
}

func TestCanonicalJSON_TypedValues(t *testing.T) {
	type inner struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	out, err := CanonicalJSON(struct {
		Z inner `json:"z"`
		Y []int `json:"y"`
	}{Z: inner{B: 1, A: "s"}, Y: []int{3, 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"y":[3,1],"z":{"a":"s","b":1}}`, string(out))
}

// asAny retypes a generator's results as `any` so heterogeneous values can
// share one map/slice element type. gopter's Gen.Map cannot express this:
// a mapper returning `any` is mistaken for one returning *gopter.GenResult.
// The sieve and shrinker are dropped because gopter applies the first
// element's sieve/shrinker to every element of a container, which panics
// when the element types differ; an accept-all sieve also lets nil through.
func asAny(g gopter.Gen) gopter.Gen {
	anyType := reflect.TypeOf((*any)(nil)).Elem()
	return func(params *gopter.GenParameters) *gopter.GenResult {
		result := g(params)
		result.ResultType = anyType
		result.Sieve = func(interface{}) bool { return true }
		result.Shrinker = gopter.NoShrinker
		return result
	}
}

// genJSONValue builds arbitrary JSON-like trees up to a small depth.
func genJSONValue(depth int) gopter.Gen {
	leaves := gen.OneGenOf(
		asAny(gen.AlphaString()),
		asAny(gen.Int64()),
		asAny(gen.Float64Range(-1e6, 1e6)),
		asAny(gen.Bool()),
		asAny(gen.Const(any(nil))),
	)
	if depth <= 0 {
		return leaves
	}
	return gen.OneGenOf(
		leaves,
		asAny(gen.MapOf(gen.Identifier(), genJSONValue(depth-1))),
		asAny(gen.SliceOf(genJSONValue(depth-1))),
	)
}

func TestCanonicalJSON_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonicalization is deterministic", prop.ForAll(
		func(v any) bool {
			a, err1 := CanonicalJSON(v)
			b, err2 := CanonicalJSON(v)
			return err1 == nil && err2 == nil && string(a) == string(b)
		},
		genJSONValue(3),
	))

	properties.Property("canonical output is valid JSON", prop.ForAll(
		func(v any) bool {
			out, err := CanonicalJSON(v)
			if err != nil {
				return false
			}
			var decoded any
			return json.Unmarshal(out, &decoded) == nil
		},
		genJSONValue(3),
	))

	properties.Property("canonicalization is idempotent", prop.ForAll(
		func(v any) bool {
			once, err := CanonicalJSON(v)
			if err != nil {
				return false
			}
			twice := CanonicalizeRaw(once)
			return string(once) == string(twice)
		},
		genJSONValue(3),
	))

	properties.TestingRun(t)
}
