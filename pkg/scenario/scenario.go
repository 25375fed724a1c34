// Package scenario loads declarative YAML test scenarios and evaluates
// assertions against observed tool responses.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

type Category string

const (
	CategoryHappyPath Category = "happy_path"
	CategoryError     Category = "error"
	CategoryEdgeCase  Category = "edge_case"
)

// ExpectedOutcome derives the expected call outcome from a category.
func (c Category) ExpectedOutcome() string {
	if c == CategoryError {
		return "error"
	}
	return "success"
}

// Condition is an assertion operator.
type Condition string

const (
	CondExists   Condition = "exists"
	CondEquals   Condition = "equals"
	CondContains Condition = "contains"
	CondTruthy   Condition = "truthy"
	CondType     Condition = "type"
	CondMatches  Condition = "matches"
)

// Assertion checks one dotted path in a response.
type Assertion struct {
	Path      string    `yaml:"path" json:"path"`
	Condition Condition `yaml:"condition" json:"condition"`
	Value     any       `yaml:"value,omitempty" json:"value,omitempty"`
}

// Scenario is one scripted interaction with a tool or prompt.
type Scenario struct {
	Name       string         `yaml:"name" json:"name"`
	Tool       string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Prompt     string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Args       map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Category   Category       `yaml:"category,omitempty" json:"category,omitempty"`
	Assertions []Assertion    `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

type file struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load reads scenarios from a YAML file and validates them.
func Load(path string) ([]Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationScenario,
			fmt.Sprintf("read scenario file %s", path), err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationScenario,
			fmt.Sprintf("parse scenario file %s", path), err)
	}

	for i := range f.Scenarios {
		if err := validate(&f.Scenarios[i], i); err != nil {
			return nil, err
		}
	}
	return f.Scenarios, nil
}

func validate(s *Scenario, index int) error {
	fail := func(msg string) error {
		return errdefs.New(errdefs.CodeValidationScenario,
			fmt.Sprintf("scenario %d (%s): %s", index, s.Name, msg))
	}

	if s.Name == "" {
		return errdefs.New(errdefs.CodeValidationScenario,
			fmt.Sprintf("scenario %d: name is required", index))
	}
	if s.Tool == "" && s.Prompt == "" {
		return fail("either tool or prompt is required")
	}
	if s.Tool != "" && s.Prompt != "" {
		return fail("tool and prompt are mutually exclusive")
	}

	if s.Category == "" {
		s.Category = CategoryHappyPath
	}
	switch s.Category {
	case CategoryHappyPath, CategoryError, CategoryEdgeCase:
	default:
		return fail(fmt.Sprintf("unknown category %q", s.Category))
	}

	for _, a := range s.Assertions {
		switch a.Condition {
		case CondExists, CondTruthy:
		case CondEquals, CondContains, CondType, CondMatches:
			if a.Value == nil {
				return fail(fmt.Sprintf("assertion %q: condition %s requires a value", a.Path, a.Condition))
			}
		default:
			return fail(fmt.Sprintf("assertion %q: unknown condition %q", a.Path, a.Condition))
		}
	}
	return nil
}
