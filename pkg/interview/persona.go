package interview

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// Persona is a named question-generation strategy. Immutable once loaded.
type Persona struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	SystemPrompt string `yaml:"systemPrompt" json:"systemPrompt"`
	Guidance     string `yaml:"guidance" json:"guidance"`
}

// BuiltinPersonas are available without any persona file.
func BuiltinPersonas() []Persona {
	return []Persona{
		{
			ID:           "explorer",
			Name:         "Explorer",
			SystemPrompt: "You are a curious integrator trying an unfamiliar API for the first time. You want to understand what each tool does and what a typical successful call looks like.",
			Guidance:     "Favor realistic, well-formed inputs. Cover the documented happy path and a few plausible variations.",
		},
		{
			ID:           "adversary",
			Name:         "Adversary",
			SystemPrompt: "You are a security tester probing an API for weaknesses. You look for injection, traversal, type confusion, and missing validation.",
			Guidance:     "Prefer hostile inputs: oversized strings, path traversal sequences, SQL and shell metacharacters, wrong types, empty and null values. Tag these as security or error.",
		},
		{
			ID:           "realist",
			Name:         "Realist",
			SystemPrompt: "You are a production user under time pressure. You make the small mistakes real users make: typos, missing optional fields, off-by-one values.",
			Guidance:     "Mix mostly-correct calls with common mistakes: an omitted optional field, a boundary value, a slightly malformed identifier. Tag mistakes as edge_case or error.",
		},
	}
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonas reads custom personas from a YAML file.
func LoadPersonas(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationConfig,
			fmt.Sprintf("read persona file %s", path), err)
	}

	var f personaFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationConfig,
			fmt.Sprintf("parse persona file %s", path), err)
	}

	for i, p := range f.Personas {
		if p.ID == "" {
			return nil, errdefs.New(errdefs.CodeValidationConfig,
				fmt.Sprintf("persona %d: id is required", i))
		}
	}
	return f.Personas, nil
}

// ResolvePersonas maps requested ids to personas, searching custom personas
// first and then the built-ins. An empty request yields all built-ins plus
// every custom persona, with custom definitions shadowing built-ins by id.
func ResolvePersonas(ids []string, custom []Persona) ([]Persona, error) {
	if len(ids) == 0 {
		merged := BuiltinPersonas()
		index := make(map[string]int, len(merged))
		for i, p := range merged {
			index[p.ID] = i
		}
		for _, p := range custom {
			if i, ok := index[p.ID]; ok {
				merged[i] = p
				continue
			}
			merged = append(merged, p)
		}
		return merged, nil
	}

	byID := make(map[string]Persona)
	for _, p := range BuiltinPersonas() {
		byID[p.ID] = p
	}
	for _, p := range custom {
		byID[p.ID] = p
	}

	resolved := make([]Persona, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, errdefs.New(errdefs.CodeValidationConfig,
				fmt.Sprintf("unknown persona %q", id))
		}
		resolved = append(resolved, p)
	}
	return resolved, nil
}
