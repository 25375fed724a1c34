package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bellwetherhq/bellwether/pkg/mcp"
)

var verbSynonyms = map[string]string{
	"create":   "create",
	"add":      "create",
	"new":      "create",
	"register": "create",
	"get":      "get",
	"fetch":    "get",
	"read":     "get",
	"retrieve": "get",
	"list":     "list",
	"search":   "list",
	"update":   "update",
	"edit":     "update",
	"modify":   "update",
	"set":      "update",
	"delete":   "delete",
	"remove":   "delete",
	"destroy":  "delete",
}

// step ordering within a generated lifecycle
var lifecycleOrder = []string{"get", "update", "delete", "list"}

// Generate derives up to maxWorkflows lifecycle workflows from a tool list
// by pairing create/get/list/update/delete tools that share an entity name.
// Generated workflows are tagged discovered.
func Generate(tools []mcp.Tool, maxWorkflows int) []Workflow {
	if maxWorkflows <= 0 {
		return nil
	}

	type family struct {
		entity string
		verbs  map[string]mcp.Tool
	}
	families := make(map[string]*family)

	for _, tool := range tools {
		verb, entity := splitName(tool.Name)
		if verb == "" || entity == "" {
			continue
		}
		f := families[entity]
		if f == nil {
			f = &family{entity: entity, verbs: make(map[string]mcp.Tool)}
			families[entity] = f
		}
		if _, taken := f.verbs[verb]; !taken {
			f.verbs[verb] = tool
		}
	}

	entities := make([]string, 0, len(families))
	for entity := range families {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var workflows []Workflow
	for _, entity := range entities {
		if len(workflows) >= maxWorkflows {
			break
		}
		f := families[entity]
		create, ok := f.verbs["create"]
		if !ok || len(f.verbs) < 2 {
			continue
		}

		steps := []Step{{
			Tool: create.Name,
			Args: minimalArgs(create.InputSchema),
		}}

		for _, verb := range lifecycleOrder {
			tool, ok := f.verbs[verb]
			if !ok {
				continue
			}
			steps = append(steps, followupStep(tool, verb))
		}
		if len(steps) < 2 {
			continue
		}

		workflows = append(workflows, Workflow{
			Name:        entity + "-lifecycle",
			Description: fmt.Sprintf("Generated lifecycle for %s across %d tools", entity, len(steps)),
			Steps:       steps,
			Discovered:  true,
		})
	}
	return workflows
}

// followupStep builds a step after the create, binding id-like required
// parameters to the create's returned id.
func followupStep(tool mcp.Tool, verb string) Step {
	step := Step{
		Tool:     tool.Name,
		Optional: verb == "list",
	}

	args := minimalArgs(tool.InputSchema)
	for param := range args {
		if idLike(param) {
			if step.ArgMapping == nil {
				step.ArgMapping = make(map[string]string)
			}
			step.ArgMapping[param] = "$steps[0].result.id"
			delete(args, param)
		}
	}
	if len(args) > 0 {
		step.Args = args
	}
	return step
}

// splitName separates a tool name like "create_user" or "user.create" into
// a normalized verb and its entity.
func splitName(name string) (verb, entity string) {
	lower := strings.ToLower(name)
	parts := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == '/'
	})
	if len(parts) < 2 {
		return "", ""
	}

	if v, ok := verbSynonyms[parts[0]]; ok {
		return v, strings.Join(parts[1:], "_")
	}
	if v, ok := verbSynonyms[parts[len(parts)-1]]; ok {
		return v, strings.Join(parts[:len(parts)-1], "_")
	}
	return "", ""
}

func idLike(param string) bool {
	lower := strings.ToLower(param)
	return lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id")
}

// minimalArgs produces one representative value for each required parameter
// in a JSON schema.
func minimalArgs(schema []byte) map[string]any {
	if len(schema) == 0 {
		return nil
	}

	args := make(map[string]any)
	for _, req := range gjson.GetBytes(schema, "required").Array() {
		name := req.String()
		prop := gjson.GetBytes(schema, "properties."+escapePath(name))
		args[name] = sampleValue(name, prop)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func escapePath(key string) string {
	key = strings.ReplaceAll(key, ".", `\.`)
	return strings.ReplaceAll(key, "*", `\*`)
}

func sampleValue(name string, prop gjson.Result) any {
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
		return []any{}
	case "object":
		return map[string]any{}
	default:
		lower := strings.ToLower(name)
		switch {
		case idLike(lower):
			return "test-id"
		case strings.Contains(lower, "email"):
			return "test@example.com"
		case strings.Contains(lower, "url"):
			return "https://example.com"
		case strings.Contains(lower, "name"):
			return "test"
		default:
			return "test value"
		}
	}
}
