// Package workflow defines multi-step tool sequences with data flow between
// steps, a sequential executor, and a heuristic generator that derives
// workflows from a discovered tool list.
package workflow

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/scenario"
)

// Step is one tool call in a workflow. ArgMapping binds parameters to
// earlier step outputs with references like "$steps[0].result.id".
type Step struct {
	Tool       string               `yaml:"tool" json:"tool"`
	Args       map[string]any       `yaml:"args,omitempty" json:"args,omitempty"`
	ArgMapping map[string]string    `yaml:"argMapping,omitempty" json:"argMapping,omitempty"`
	Optional   bool                 `yaml:"optional,omitempty" json:"optional,omitempty"`
	Assertions []scenario.Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

type Workflow struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
	Discovered  bool   `yaml:"discovered,omitempty" json:"discovered,omitempty"`
}

// Tools returns the distinct tool names a workflow touches, in step order.
func (w *Workflow) Tools() []string {
	seen := make(map[string]bool, len(w.Steps))
	var tools []string
	for _, s := range w.Steps {
		if !seen[s.Tool] {
			seen[s.Tool] = true
			tools = append(tools, s.Tool)
		}
	}
	return tools
}

type file struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Load reads workflows from a YAML file and validates them.
func Load(path string) ([]Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationWorkflow,
			fmt.Sprintf("read workflow file %s", path), err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationWorkflow,
			fmt.Sprintf("parse workflow file %s", path), err)
	}

	for i := range f.Workflows {
		if err := Validate(&f.Workflows[i]); err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i, err)
		}
	}
	return f.Workflows, nil
}

// stepRef matches "$steps[i].result" with an optional trailing path.
var stepRef = regexp.MustCompile(`^\$steps\[(\d+)\]\.result(?:\.(.+))?$`)

// Validate checks structural rules: named, non-empty, and every arg-mapping
// reference points at an earlier step.
func Validate(w *Workflow) error {
	fail := func(msg string) error {
		return errdefs.New(errdefs.CodeValidationWorkflow,
			fmt.Sprintf("workflow %q: %s", w.Name, msg))
	}

	if w.Name == "" {
		return errdefs.New(errdefs.CodeValidationWorkflow, "workflow name is required")
	}
	if len(w.Steps) == 0 {
		return fail("at least one step is required")
	}

	for i, step := range w.Steps {
		if step.Tool == "" {
			return fail(fmt.Sprintf("step %d: tool is required", i))
		}
		for param, ref := range step.ArgMapping {
			from, _, err := parseRef(ref)
			if err != nil {
				return fail(fmt.Sprintf("step %d: param %q: %v", i, param, err))
			}
			if from >= i {
				return fail(fmt.Sprintf("step %d: param %q references step %d, which is not earlier", i, param, from))
			}
		}
	}
	return nil
}

// parseRef splits a "$steps[i].result.<path>" reference into the source step
// index and the path under the step's result.
func parseRef(ref string) (step int, path string, err error) {
	m := stepRef.FindStringSubmatch(ref)
	if m == nil {
		return 0, "", fmt.Errorf("invalid step reference %q (want $steps[i].result.<path>)", ref)
	}
	fmt.Sscanf(m[1], "%d", &step)
	return step, m[2], nil
}
