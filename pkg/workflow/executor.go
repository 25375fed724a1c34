package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bellwetherhq/bellwether/pkg/scenario"
)

// ToolCaller invokes one tool and returns its decoded output. isError marks
// a tool-level failure delivered as a normal response.
type ToolCaller func(ctx context.Context, tool string, args map[string]any) (output any, isError bool, err error)

// Edge records data flow from one step's output into another step's argument.
type Edge struct {
	From       int    `json:"from"`
	To         int    `json:"to"`
	Param      string `json:"param"`
	SourcePath string `json:"sourcePath"`
}

// StepResult is the observed outcome of one executed step.
type StepResult struct {
	Tool         string                     `json:"tool"`
	ResolvedArgs map[string]any             `json:"resolvedArgs,omitempty"`
	Output       any                        `json:"output,omitempty"`
	Error        string                     `json:"error,omitempty"`
	IsError      bool                       `json:"isError,omitempty"`
	Skipped      bool                       `json:"skipped,omitempty"`
	DurationMs   int64                      `json:"durationMs"`
	Assertions   []scenario.AssertionResult `json:"assertions,omitempty"`
}

// Result is the outcome of one workflow run, including the data-flow graph
// derived from arg mappings.
type Result struct {
	Workflow        string       `json:"workflow"`
	Discovered      bool         `json:"discovered,omitempty"`
	Steps           []StepResult `json:"steps"`
	Edges           []Edge       `json:"edges,omitempty"`
	Completed       bool         `json:"completed"`
	FailedStepIndex *int         `json:"failedStepIndex,omitempty"`
}

// Execute runs the workflow's steps in order. A failed required step halts
// execution and records its index; failed optional steps are recorded and
// skipped over. Remaining steps after a halt are marked skipped.
func Execute(ctx context.Context, w *Workflow, call ToolCaller) *Result {
	result := &Result{
		Workflow:   w.Name,
		Discovered: w.Discovered,
		Steps:      make([]StepResult, len(w.Steps)),
	}

	outputs := make([]any, len(w.Steps))
	halted := false

	for i, step := range w.Steps {
		sr := &result.Steps[i]
		sr.Tool = step.Tool

		if halted {
			sr.Skipped = true
			continue
		}
		if err := ctx.Err(); err != nil {
			sr.Skipped = true
			halted = true
			result.FailedStepIndex = intPtr(i)
			sr.Error = err.Error()
			continue
		}

		args, edges, err := resolveArgs(i, step, outputs)
		result.Edges = append(result.Edges, edges...)
		if err != nil {
			sr.Error = err.Error()
			if !step.Optional {
				halted = true
				result.FailedStepIndex = intPtr(i)
			}
			continue
		}
		sr.ResolvedArgs = args

		start := time.Now()
		output, isError, err := call(ctx, step.Tool, args)
		sr.DurationMs = time.Since(start).Milliseconds()
		sr.Output = output
		sr.IsError = isError

		failed := err != nil || isError
		if err != nil {
			sr.Error = err.Error()
		}

		if !failed {
			outputs[i] = output
			sr.Assertions = scenario.Evaluate(output, step.Assertions)
			if !scenario.Passed(sr.Assertions) {
				failed = true
			}
		}

		if failed {
			slog.Debug("Workflow step failed",
				"workflow", w.Name,
				"step", i,
				"tool", step.Tool,
				"optional", step.Optional,
			)
			if !step.Optional {
				halted = true
				result.FailedStepIndex = intPtr(i)
			}
		}
	}

	result.Completed = !halted
	return result
}

// resolveArgs merges literal args with mapped references read from earlier
// step outputs.
func resolveArgs(index int, step Step, outputs []any) (map[string]any, []Edge, error) {
	args := make(map[string]any, len(step.Args)+len(step.ArgMapping))
	for k, v := range step.Args {
		args[k] = v
	}

	var edges []Edge
	for param, ref := range step.ArgMapping {
		from, path, err := parseRef(ref)
		if err != nil {
			return nil, edges, err
		}

		sourcePath := "result"
		if path != "" {
			sourcePath = "result." + path
		}
		edges = append(edges, Edge{From: from, To: index, Param: param, SourcePath: sourcePath})

		value, err := lookup(outputs[from], path)
		if err != nil {
			return nil, edges, fmt.Errorf("param %q: %w", param, err)
		}
		args[param] = value
	}
	return args, edges, nil
}

func lookup(output any, path string) (any, error) {
	if output == nil {
		return nil, fmt.Errorf("source step produced no output")
	}
	if path == "" {
		return output, nil
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("source output not encodable: %w", err)
	}
	value := gjson.GetBytes(raw, path)
	if !value.Exists() {
		return nil, fmt.Errorf("path %q not found in source output", path)
	}
	return value.Value(), nil
}

func intPtr(i int) *int {
	return &i
}
