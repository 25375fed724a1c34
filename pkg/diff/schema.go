package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

type ChangeKind string

const (
	ChangeParameterAdded           ChangeKind = "parameter_added"
	ChangeParameterRemoved         ChangeKind = "parameter_removed"
	ChangeParameterTypeChanged     ChangeKind = "parameter_type_changed"
	ChangeParameterRequiredAdded   ChangeKind = "parameter_required_added"
	ChangeParameterRequiredRemoved ChangeKind = "parameter_required_removed"
	ChangeEnumValueAdded           ChangeKind = "enum_value_added"
	ChangeEnumValueRemoved         ChangeKind = "enum_value_removed"
	ChangeConstraintAdded          ChangeKind = "constraint_added"
	ChangeConstraintRemoved        ChangeKind = "constraint_removed"
	ChangeConstraintTightened      ChangeKind = "constraint_tightened"
	ChangeConstraintRelaxed        ChangeKind = "constraint_relaxed"
	ChangeDescriptionChanged       ChangeKind = "description_changed"
	ChangeDefaultChanged           ChangeKind = "default_changed"
	ChangeFormatChanged            ChangeKind = "format_changed"
)

var changeWeights = map[ChangeKind]int{
	ChangeParameterAdded:           2,
	ChangeParameterRemoved:         25,
	ChangeParameterTypeChanged:     20,
	ChangeParameterRequiredAdded:   20,
	ChangeParameterRequiredRemoved: 3,
	ChangeEnumValueAdded:           3,
	ChangeEnumValueRemoved:         15,
	ChangeConstraintAdded:          15,
	ChangeConstraintRemoved:        3,
	ChangeConstraintTightened:      15,
	ChangeConstraintRelaxed:        5,
	ChangeDescriptionChanged:       1,
	ChangeDefaultChanged:           5,
	ChangeFormatChanged:            10,
}

func changeWeight(kind ChangeKind) int {
	return changeWeights[kind]
}

// SchemaChange describes one parameter-level difference.
type SchemaChange struct {
	Kind        ChangeKind `json:"kind"`
	Path        string     `json:"path"`
	Breaking    bool       `json:"breaking"`
	Before      any        `json:"before,omitempty"`
	After       any        `json:"after,omitempty"`
	Description string     `json:"description"`
}

// numeric bounds where a larger value tightens the contract
var minConstraints = []string{"minimum", "minLength", "minItems"}

// numeric bounds where a smaller value tightens the contract
var maxConstraints = []string{"maximum", "maxLength", "maxItems"}

// CompareSchemas diffs two tool input schemas parameter by parameter.
func CompareSchemas(before, after json.RawMessage) []SchemaChange {
	var changes []SchemaChange

	oldProps := gjson.GetBytes(before, "properties").Map()
	newProps := gjson.GetBytes(after, "properties").Map()
	oldRequired := requiredSet(before)
	newRequired := requiredSet(after)

	names := unionKeys(oldProps, newProps)

	for _, name := range names {
		path := "properties." + name
		oldProp, inOld := oldProps[name]
		newProp, inNew := newProps[name]

		switch {
		case !inOld && inNew:
			if newRequired[name] {
				changes = append(changes, SchemaChange{
					Kind:        ChangeParameterRequiredAdded,
					Path:        path,
					Breaking:    true,
					After:       newProp.Value(),
					Description: fmt.Sprintf("required parameter %q added", name),
				})
			} else {
				changes = append(changes, SchemaChange{
					Kind:        ChangeParameterAdded,
					Path:        path,
					After:       newProp.Value(),
					Description: fmt.Sprintf("optional parameter %q added", name),
				})
			}
			continue

		case inOld && !inNew:
			changes = append(changes, SchemaChange{
				Kind:        ChangeParameterRemoved,
				Path:        path,
				Breaking:    true,
				Before:      oldProp.Value(),
				Description: fmt.Sprintf("parameter %q removed", name),
			})
			continue
		}

		changes = append(changes, compareParameter(path, name, oldProp, newProp, oldRequired[name], newRequired[name])...)
	}

	return changes
}

func compareParameter(path, name string, oldProp, newProp gjson.Result, wasRequired, isRequired bool) []SchemaChange {
	var changes []SchemaChange

	if !wasRequired && isRequired {
		changes = append(changes, SchemaChange{
			Kind:        ChangeParameterRequiredAdded,
			Path:        path,
			Breaking:    true,
			Description: fmt.Sprintf("parameter %q became required", name),
		})
	}
	if wasRequired && !isRequired {
		changes = append(changes, SchemaChange{
			Kind:        ChangeParameterRequiredRemoved,
			Path:        path,
			Description: fmt.Sprintf("parameter %q became optional", name),
		})
	}

	oldType := oldProp.Get("type").String()
	newType := newProp.Get("type").String()
	if oldType != newType {
		changes = append(changes, SchemaChange{
			Kind:        ChangeParameterTypeChanged,
			Path:        path + ".type",
			Breaking:    true,
			Before:      oldType,
			After:       newType,
			Description: fmt.Sprintf("parameter %q changed type from %s to %s", name, orAny(oldType), orAny(newType)),
		})
	}

	changes = append(changes, compareEnum(path, name, oldProp, newProp)...)
	changes = append(changes, compareConstraints(path, name, oldProp, newProp)...)

	if c := compareScalarField(path, name, "format", ChangeFormatChanged, false, oldProp, newProp); c != nil {
		changes = append(changes, *c)
	}
	if c := compareScalarField(path, name, "default", ChangeDefaultChanged, false, oldProp, newProp); c != nil {
		changes = append(changes, *c)
	}
	if c := compareScalarField(path, name, "description", ChangeDescriptionChanged, false, oldProp, newProp); c != nil {
		changes = append(changes, *c)
	}

	return changes
}

func compareEnum(path, name string, oldProp, newProp gjson.Result) []SchemaChange {
	oldEnum := enumSet(oldProp)
	newEnum := enumSet(newProp)
	if oldEnum == nil && newEnum == nil {
		return nil
	}

	var added, removed []string
	for v := range newEnum {
		if !oldEnum[v] {
			added = append(added, v)
		}
	}
	for v := range oldEnum {
		if !newEnum[v] {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	var changes []SchemaChange
	if len(removed) > 0 {
		changes = append(changes, SchemaChange{
			Kind:        ChangeEnumValueRemoved,
			Path:        path + ".enum",
			Breaking:    true,
			Before:      removed,
			Description: fmt.Sprintf("parameter %q lost enum value(s) %s", name, strings.Join(removed, ", ")),
		})
	}
	if len(added) > 0 {
		changes = append(changes, SchemaChange{
			Kind:        ChangeEnumValueAdded,
			Path:        path + ".enum",
			After:       added,
			Description: fmt.Sprintf("parameter %q gained enum value(s) %s", name, strings.Join(added, ", ")),
		})
	}
	return changes
}

func compareConstraints(path, name string, oldProp, newProp gjson.Result) []SchemaChange {
	var changes []SchemaChange

	check := func(key string, tighterIfLarger bool) {
		oldV := oldProp.Get(key)
		newV := newProp.Get(key)

		switch {
		case !oldV.Exists() && !newV.Exists():
			return
		case !oldV.Exists():
			// Adding any constraint tightens the contract.
			changes = append(changes, SchemaChange{
				Kind:        ChangeConstraintAdded,
				Path:        path + "." + key,
				Breaking:    true,
				After:       newV.Value(),
				Description: fmt.Sprintf("parameter %q gained constraint %s=%v", name, key, newV.Value()),
			})
		case !newV.Exists():
			changes = append(changes, SchemaChange{
				Kind:        ChangeConstraintRemoved,
				Path:        path + "." + key,
				Before:      oldV.Value(),
				Description: fmt.Sprintf("parameter %q lost constraint %s", name, key),
			})
		case oldV.Float() != newV.Float():
			tightened := (newV.Float() > oldV.Float()) == tighterIfLarger
			kind := ChangeConstraintRelaxed
			verb := "relaxed"
			if tightened {
				kind = ChangeConstraintTightened
				verb = "tightened"
			}
			changes = append(changes, SchemaChange{
				Kind:        kind,
				Path:        path + "." + key,
				Breaking:    tightened,
				Before:      oldV.Value(),
				After:       newV.Value(),
				Description: fmt.Sprintf("parameter %q %s %s from %v to %v", name, verb, key, oldV.Value(), newV.Value()),
			})
		}
	}

	for _, key := range minConstraints {
		check(key, true)
	}
	for _, key := range maxConstraints {
		check(key, false)
	}

	oldPattern := oldProp.Get("pattern")
	newPattern := newProp.Get("pattern")
	switch {
	case !oldPattern.Exists() && newPattern.Exists():
		changes = append(changes, SchemaChange{
			Kind:        ChangeConstraintAdded,
			Path:        path + ".pattern",
			Breaking:    true,
			After:       newPattern.String(),
			Description: fmt.Sprintf("parameter %q gained pattern %q", name, newPattern.String()),
		})
	case oldPattern.Exists() && !newPattern.Exists():
		changes = append(changes, SchemaChange{
			Kind:        ChangeConstraintRemoved,
			Path:        path + ".pattern",
			Before:      oldPattern.String(),
			Description: fmt.Sprintf("parameter %q lost its pattern", name),
		})
	case oldPattern.String() != newPattern.String():
		// Any pattern change is treated as tightening.
		changes = append(changes, SchemaChange{
			Kind:        ChangeConstraintTightened,
			Path:        path + ".pattern",
			Breaking:    true,
			Before:      oldPattern.String(),
			After:       newPattern.String(),
			Description: fmt.Sprintf("parameter %q changed pattern", name),
		})
	}

	return changes
}

func compareScalarField(path, name, key string, kind ChangeKind, breaking bool, oldProp, newProp gjson.Result) *SchemaChange {
	oldV := oldProp.Get(key)
	newV := newProp.Get(key)
	if oldV.Raw == newV.Raw {
		return nil
	}
	return &SchemaChange{
		Kind:        kind,
		Path:        path + "." + key,
		Breaking:    breaking,
		Before:      oldV.Value(),
		After:       newV.Value(),
		Description: fmt.Sprintf("parameter %q changed %s", name, key),
	}
}

func requiredSet(schema json.RawMessage) map[string]bool {
	out := make(map[string]bool)
	for _, r := range gjson.GetBytes(schema, "required").Array() {
		out[r.String()] = true
	}
	return out
}

func enumSet(prop gjson.Result) map[string]bool {
	enum := prop.Get("enum")
	if !enum.Exists() {
		return nil
	}
	out := make(map[string]bool)
	for _, v := range enum.Array() {
		out[v.Raw] = true
	}
	return out
}

func unionKeys(a, b map[string]gjson.Result) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func orAny(typ string) string {
	if typ == "" {
		return "any"
	}
	return typ
}
