package interview

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bellwetherhq/bellwether/pkg/budget"
	"github.com/bellwetherhq/bellwether/pkg/llms"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
	"github.com/bellwetherhq/bellwether/pkg/scenario"
	"github.com/bellwetherhq/bellwether/pkg/workflow"
)

// Options configure one interview run.
type Options struct {
	Personas            []Persona
	MaxQuestionsPerTool int
	ParallelPersonas    bool
	PersonaConcurrency  int
	SkipErrorTests      bool
	Structural          bool
	ScenariosOnly       bool
	Scenarios           []scenario.Scenario
	Workflows           []workflow.Workflow
	DiscoverWorkflows   bool
	MaxWorkflows        int
	Cache               *Cache
	DisableCache        bool
	Tracker             *budget.Tracker
	OnProgress          ProgressFunc
	Timeout             time.Duration
}

func (o *Options) applyDefaults() {
	if len(o.Personas) == 0 {
		o.Personas = BuiltinPersonas()
	}
	if o.MaxQuestionsPerTool <= 0 {
		o.MaxQuestionsPerTool = 5
	}
	if o.PersonaConcurrency <= 0 {
		o.PersonaConcurrency = 3
	}
	if o.MaxWorkflows <= 0 {
		o.MaxWorkflows = 5
	}
	if o.Cache == nil {
		o.Cache = NewCache()
	}
}

// Scheduler fans interviews out across personas and tools. provider may be
// nil, which forces structural mode.
type Scheduler struct {
	client   ToolClient
	provider llms.Provider
	opts     Options

	mu           sync.Mutex
	interactions map[string][]Interaction
	toolLocks    map[string]*sync.Mutex
	completed    atomic.Int64
}

func New(client ToolClient, provider llms.Provider, opts Options) *Scheduler {
	opts.applyDefaults()
	if provider == nil {
		opts.Structural = true
	}
	return &Scheduler{
		client:       client,
		provider:     provider,
		opts:         opts,
		interactions: make(map[string][]Interaction),
		toolLocks:    make(map[string]*sync.Mutex),
	}
}

// Run executes the full interview against a discovery result. Cancellation
// at any point returns partial results with Cancelled set rather than an
// error.
func (s *Scheduler) Run(ctx context.Context, discovery *mcp.Discovery) (*Result, error) {
	start := time.Now()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	s.opts.Cache.Clear()
	for _, tool := range discovery.Tools {
		s.toolLocks[tool.Name] = &sync.Mutex{}
	}

	result := &Result{
		Discovery:  discovery,
		Structural: s.opts.Structural,
		StartedAt:  start,
	}
	for _, p := range s.opts.Personas {
		result.Personas = append(result.Personas, p.ID)
	}

	total := len(s.opts.Personas) * len(discovery.Tools)
	s.progress(Progress{Phase: PhaseStarting, Total: total,
		Message: "interview starting"})

	if !s.opts.ScenariosOnly {
		s.interviewPhase(ctx, discovery, total)
	}

	if ctx.Err() == nil {
		result.PromptResults = s.promptsPhase(ctx, discovery)
	}
	if ctx.Err() == nil {
		result.ResourceResults = s.resourcesPhase(ctx, discovery)
	}
	if ctx.Err() == nil {
		result.ScenarioResults = s.scenariosPhase(ctx)
	}
	if ctx.Err() == nil {
		result.WorkflowResults = s.workflowsPhase(ctx, discovery)
	}

	result.Cancelled = ctx.Err() != nil

	// Synthesis runs on whatever was collected, even after cancellation,
	// but without further LLM calls or progress events once cancelled.
	if !result.Cancelled {
		s.progress(Progress{Phase: PhaseSynthesizing, Total: total,
			Completed: int(s.completed.Load())})
	}

	provider := s.provider
	if result.Cancelled || s.opts.Structural {
		provider = nil
	}
	synthCtx := ctx
	if result.Cancelled {
		synthCtx = context.WithoutCancel(ctx)
	}
	for _, tool := range discovery.Tools {
		profile := SynthesizeProfile(synthCtx, provider, tool.Name, s.take(tool.Name))
		result.ToolProfiles = append(result.ToolProfiles, profile)
	}
	sort.Slice(result.ToolProfiles, func(i, j int) bool {
		return result.ToolProfiles[i].Name < result.ToolProfiles[j].Name
	})
	result.Summary = SynthesizeSummary(synthCtx, provider, discovery.ServerInfo.Name, result.ToolProfiles)

	if s.opts.Tracker != nil {
		result.Usage = s.opts.Tracker.Status()
	}
	if s.provider != nil {
		result.Model = s.provider.Info().DefaultModel
	}
	result.DurationMs = time.Since(start).Milliseconds()

	// After cancellation the only remaining event is the final notice.
	phase := PhaseComplete
	message := "interview complete"
	if result.Cancelled {
		phase = PhaseCancelled
		message = "interview cancelled, partial results"
	}
	s.progress(Progress{Phase: phase, Total: total,
		Completed: int(s.completed.Load()), Message: message})

	return result, nil
}

func (s *Scheduler) interviewPhase(ctx context.Context, discovery *mcp.Discovery, total int) {
	runPersona := func(ctx context.Context, p Persona) {
		for _, tool := range discovery.Tools {
			if ctx.Err() != nil {
				return
			}
			s.progress(Progress{Phase: PhaseInterviewing, Persona: p.ID, Tool: tool.Name,
				Completed: int(s.completed.Load()), Total: total})
			s.interviewTool(ctx, p, tool)
			s.completed.Add(1)
		}
	}

	if s.opts.ParallelPersonas && len(s.opts.Personas) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.PersonaConcurrency)
		for _, p := range s.opts.Personas {
			g.Go(func() error {
				runPersona(gctx, p)
				return nil
			})
		}
		g.Wait()
		return
	}

	for _, p := range s.opts.Personas {
		runPersona(ctx, p)
	}
}

func (s *Scheduler) interviewTool(ctx context.Context, p Persona, tool mcp.Tool) {
	questions := s.questionsFor(ctx, p, tool)

	for _, q := range questions {
		if ctx.Err() != nil {
			return
		}
		if s.opts.SkipErrorTests && (q.Category == CategoryError || q.Category == CategorySecurity) {
			continue
		}

		if !s.opts.DisableCache {
			if cached, ok := s.opts.Cache.Get(p.ID, tool.Name, q.Args); ok {
				s.record(*cached)
				continue
			}
		}

		interaction := s.ask(ctx, p, tool, q)
		if !s.opts.DisableCache {
			s.opts.Cache.Put(p.ID, tool.Name, q.Args, interaction)
		}
		s.record(interaction)
	}
}

// questionsFor prefers the LLM but falls back to structural generation when
// the run is structural, the budget is close to exhausted, or generation
// fails.
func (s *Scheduler) questionsFor(ctx context.Context, p Persona, tool mcp.Tool) []Question {
	if s.opts.Structural || s.budgetExhausted() {
		return StructuralQuestions(tool, s.opts.MaxQuestionsPerTool)
	}

	questions, err := GenerateQuestions(ctx, s.provider, p, tool, s.opts.MaxQuestionsPerTool)
	if err != nil || len(questions) == 0 {
		if err != nil {
			slog.Warn("Question generation failed, using structural questions",
				"tool", tool.Name, "persona", p.ID, "error", err)
		}
		return StructuralQuestions(tool, s.opts.MaxQuestionsPerTool)
	}
	return questions
}

// ask performs one tool call under the tool's lock so a session never has
// two outstanding calls to the same tool, then analyzes the outcome.
func (s *Scheduler) ask(ctx context.Context, p Persona, tool mcp.Tool, q Question) Interaction {
	interaction := Interaction{
		Tool:            tool.Name,
		Persona:         p.ID,
		Question:        q.Question,
		Category:        q.Category,
		Args:            q.Args,
		ExpectedOutcome: q.ExpectedOutcome,
	}

	lock := s.toolLocks[tool.Name]
	lock.Lock()
	started := time.Now()
	res, err := s.client.CallTool(ctx, tool.Name, q.Args)
	interaction.LatencyMs = time.Since(started).Milliseconds()
	lock.Unlock()

	if err != nil {
		interaction.Error = err.Error()
	} else {
		interaction.IsError = res.IsError
		interaction.Response = decodeToolResult(res)
	}

	// Failures in error and security tests are signal, not retry fodder;
	// no interview call is ever retried.
	provider := s.provider
	if s.opts.Structural || s.budgetExhausted() {
		provider = nil
	}
	interaction.Assessment = AnalyzeOutcome(ctx, provider, &interaction)
	return interaction
}

func (s *Scheduler) promptsPhase(ctx context.Context, discovery *mcp.Discovery) []PromptResult {
	if len(discovery.Prompts) == 0 {
		return nil
	}
	s.progress(Progress{Phase: PhasePrompts, Total: len(discovery.Prompts)})

	var results []PromptResult
	for _, p := range discovery.Prompts {
		if ctx.Err() != nil {
			break
		}
		args := make(map[string]string)
		for _, a := range p.Arguments {
			if a.Required {
				args[a.Name] = "test"
			}
		}

		started := time.Now()
		res, err := s.client.GetPrompt(ctx, p.Name, args)
		pr := PromptResult{Name: p.Name, LatencyMs: time.Since(started).Milliseconds()}
		if err != nil {
			pr.Error = err.Error()
		} else {
			pr.Messages = len(res.Messages)
		}
		results = append(results, pr)
	}
	return results
}

func (s *Scheduler) resourcesPhase(ctx context.Context, discovery *mcp.Discovery) []ResourceResult {
	if len(discovery.Resources) == 0 {
		return nil
	}
	s.progress(Progress{Phase: PhaseResources, Total: len(discovery.Resources)})

	var results []ResourceResult
	for _, r := range discovery.Resources {
		if ctx.Err() != nil {
			break
		}

		started := time.Now()
		res, err := s.client.ReadResource(ctx, r.URI)
		rr := ResourceResult{URI: r.URI, LatencyMs: time.Since(started).Milliseconds()}
		if err != nil {
			rr.Error = err.Error()
		} else {
			for _, c := range res.Contents {
				rr.Bytes += len(c.Text) + len(c.Blob)
				if rr.MimeType == "" {
					rr.MimeType = c.MimeType
				}
			}
		}
		results = append(results, rr)
	}
	return results
}

func (s *Scheduler) scenariosPhase(ctx context.Context) []ScenarioResult {
	if len(s.opts.Scenarios) == 0 {
		return nil
	}

	var results []ScenarioResult
	for _, sc := range s.opts.Scenarios {
		if ctx.Err() != nil {
			break
		}
		if sc.Tool == "" {
			continue
		}

		started := time.Now()
		res, err := s.client.CallTool(ctx, sc.Tool, sc.Args)
		sr := ScenarioResult{Scenario: sc, LatencyMs: time.Since(started).Milliseconds()}
		if err != nil {
			sr.Error = err.Error()
			sr.Passed = sc.Category == scenario.CategoryError
		} else {
			sr.IsError = res.IsError
			sr.Response = decodeToolResult(res)
			if res.IsError {
				sr.Passed = sc.Category == scenario.CategoryError
			} else {
				sr.Assertions = scenario.Evaluate(sr.Response, sc.Assertions)
				sr.Passed = scenario.Passed(sr.Assertions)
			}
		}
		results = append(results, sr)
	}
	return results
}

func (s *Scheduler) workflowsPhase(ctx context.Context, discovery *mcp.Discovery) []*workflow.Result {
	workflows := s.opts.Workflows
	if s.opts.DiscoverWorkflows {
		workflows = append(workflows, workflow.Generate(discovery.Tools, s.opts.MaxWorkflows)...)
	}
	if len(workflows) == 0 {
		return nil
	}
	s.progress(Progress{Phase: PhaseWorkflows, Total: len(workflows)})

	call := func(ctx context.Context, tool string, args map[string]any) (any, bool, error) {
		lock := s.toolLocks[tool]
		if lock != nil {
			lock.Lock()
			defer lock.Unlock()
		}
		res, err := s.client.CallTool(ctx, tool, args)
		if err != nil {
			return nil, false, err
		}
		return decodeToolResult(res), res.IsError, nil
	}

	var results []*workflow.Result
	for i := range workflows {
		if ctx.Err() != nil {
			break
		}
		results = append(results, workflow.Execute(ctx, &workflows[i], call))
	}
	return results
}

func (s *Scheduler) budgetExhausted() bool {
	return s.opts.Tracker != nil && s.opts.Tracker.WouldExceed(2000, 1000)
}

func (s *Scheduler) record(interaction Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[interaction.Tool] = append(s.interactions[interaction.Tool], interaction)
}

func (s *Scheduler) take(tool string) []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions[tool]
}

func (s *Scheduler) progress(p Progress) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}

// decodeToolResult favors structured content, then JSON-parseable text, then
// raw text.
func decodeToolResult(res *mcp.CallToolResult) any {
	if len(res.StructuredContent) > 0 {
		var v any
		if err := json.Unmarshal(res.StructuredContent, &v); err == nil {
			return v
		}
	}

	text := res.Text()
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return map[string]any{"text": text}
}
