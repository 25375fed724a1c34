// Package interview drives generated and scripted interactions against a
// discovered MCP server and synthesizes per-tool behavioral profiles.
package interview

import (
	"context"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/budget"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
	"github.com/bellwetherhq/bellwether/pkg/scenario"
	"github.com/bellwetherhq/bellwether/pkg/workflow"
)

// Question categories.
const (
	CategoryHappyPath = "happy_path"
	CategoryEdgeCase  = "edge_case"
	CategoryError     = "error"
	CategorySecurity  = "security"
)

// Expected-outcome tags.
const (
	ExpectSuccess = "success"
	ExpectError   = "error"
	ExpectEither  = "either"
)

// Question is one generated test case for a tool.
type Question struct {
	Question        string         `json:"question"`
	Category        string         `json:"category"`
	Args            map[string]any `json:"args"`
	ExpectedOutcome string         `json:"expectedOutcome"`
}

// OutcomeAssessment is the judgment of whether a call behaved as the
// question intended.
type OutcomeAssessment struct {
	Correct   bool   `json:"correct"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Interaction records one tool call and its analysis. Exactly one of
// Response and Error is set.
type Interaction struct {
	Tool            string            `json:"tool"`
	Persona         string            `json:"persona,omitempty"`
	Question        string            `json:"question"`
	Category        string            `json:"category"`
	Args            map[string]any    `json:"args,omitempty"`
	Response        any               `json:"response,omitempty"`
	Error           string            `json:"error,omitempty"`
	IsError         bool              `json:"isError,omitempty"`
	LatencyMs       int64             `json:"latencyMs"`
	ExpectedOutcome string            `json:"expectedOutcome"`
	Assessment      OutcomeAssessment `json:"assessment"`
	Cached          bool              `json:"cached,omitempty"`
}

// Succeeded reports whether the call completed without tool or transport
// error.
func (i *Interaction) Succeeded() bool {
	return i.Error == "" && !i.IsError
}

// ToolProfile summarizes everything learned about one tool.
type ToolProfile struct {
	Name            string        `json:"name"`
	Interactions    []Interaction `json:"interactions"`
	BehavioralNotes []string      `json:"behavioralNotes,omitempty"`
	Limitations     []string      `json:"limitations,omitempty"`
	SecurityNotes   []string      `json:"securityNotes,omitempty"`
	// TimingNotes hold latency observations. They vary run to run and are
	// kept apart from the behavioral notes that seal into the baseline hash.
	TimingNotes []string `json:"timingNotes,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// PromptResult records a prompts/get probe.
type PromptResult struct {
	Name      string `json:"name"`
	Error     string `json:"error,omitempty"`
	Messages  int    `json:"messages"`
	LatencyMs int64  `json:"latencyMs"`
}

// ResourceResult records a resources/read probe.
type ResourceResult struct {
	URI       string `json:"uri"`
	Error     string `json:"error,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Bytes     int    `json:"bytes"`
	LatencyMs int64  `json:"latencyMs"`
}

// ScenarioResult records one scripted scenario run.
type ScenarioResult struct {
	Scenario   scenario.Scenario          `json:"scenario"`
	Response   any                        `json:"response,omitempty"`
	Error      string                     `json:"error,omitempty"`
	IsError    bool                       `json:"isError,omitempty"`
	Passed     bool                       `json:"passed"`
	Assertions []scenario.AssertionResult `json:"assertions,omitempty"`
	LatencyMs  int64                      `json:"latencyMs"`
}

// Result is the complete outcome of one interview.
type Result struct {
	Discovery       *mcp.Discovery     `json:"discovery"`
	Personas        []string           `json:"personas"`
	Model           string             `json:"model,omitempty"`
	Structural      bool               `json:"structural,omitempty"`
	ToolProfiles    []ToolProfile      `json:"toolProfiles"`
	PromptResults   []PromptResult     `json:"promptResults,omitempty"`
	ResourceResults []ResourceResult   `json:"resourceResults,omitempty"`
	ScenarioResults []ScenarioResult   `json:"scenarioResults,omitempty"`
	WorkflowResults []*workflow.Result `json:"workflowResults,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Cancelled       bool               `json:"cancelled,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	DurationMs      int64              `json:"durationMs"`
	Usage           budget.Status      `json:"usage"`
}

// Phase names surfaced through progress callbacks.
type Phase string

const (
	PhaseStarting     Phase = "starting"
	PhaseInterviewing Phase = "interviewing"
	PhasePrompts      Phase = "prompts"
	PhaseResources    Phase = "resources"
	PhaseWorkflows    Phase = "workflows"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseComplete     Phase = "complete"
	PhaseCancelled    Phase = "cancelled"
)

type Progress struct {
	Phase     Phase  `json:"phase"`
	Persona   string `json:"persona,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

type ProgressFunc func(Progress)

// ToolClient is the protocol surface the scheduler needs. *mcp.Client
// satisfies it; tests substitute doubles.
type ToolClient interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
}
