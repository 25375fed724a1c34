package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/baseline"
	"github.com/bellwetherhq/bellwether/pkg/budget"
	"github.com/bellwetherhq/bellwether/pkg/config"
	"github.com/bellwetherhq/bellwether/pkg/credentials"
	"github.com/bellwetherhq/bellwether/pkg/diff"
	"github.com/bellwetherhq/bellwether/pkg/interview"
	"github.com/bellwetherhq/bellwether/pkg/llms"
	"github.com/bellwetherhq/bellwether/pkg/llms/fallback"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
	"github.com/bellwetherhq/bellwether/pkg/observability"
	"github.com/bellwetherhq/bellwether/pkg/retry"
	"github.com/bellwetherhq/bellwether/pkg/scenario"
	"github.com/bellwetherhq/bellwether/pkg/transport"
	"github.com/bellwetherhq/bellwether/pkg/workflow"
)

type InterviewCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" default:"bellwether.yaml"`
	Output string `short:"o" help:"Baseline output path (overrides config)." type:"path"`
}

func (c *InterviewCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Interrupted, draining in-flight work")
		cancel()
	}()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	tracker := budget.NewTracker(budgetLimits(cfg), budget.WithWarning(func(s budget.Status) {
		slog.Warn("Token budget soft limit crossed", "usage", s.String())
	}))

	var provider llms.Provider
	if cfg.Mode == config.ModeExplore {
		provider, err = buildProviderChain(ctx, cfg, tracker, metrics)
		if err != nil {
			return err
		}
		defer provider.Close()
	}

	client, discovery, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	opts, err := interviewOptions(cfg, tracker)
	if err != nil {
		return err
	}

	tools := &meteredClient{Client: client, metrics: metrics}
	result, err := interview.New(tools, provider, opts).Run(ctx, discovery)
	if err != nil {
		return err
	}
	if result.Cancelled {
		slog.Warn("Interview cancelled, sealing partial results")
	}

	mode := baseline.ModeExplore
	if cfg.Mode == config.ModeStructural {
		mode = baseline.ModeStructural
	}
	b, err := baseline.Build(result, mode, cliVersion, serverCommand(cfg))
	if err != nil {
		return err
	}

	path := baselinePath(cfg, c.Output)
	if err := baseline.Save(b, path); err != nil {
		return err
	}
	fmt.Printf("Baseline written to %s (hash %s, %d tools, %s)\n",
		path, b.Hash, len(b.Capabilities.Tools), result.Usage.String())

	if cfg.Baseline.ComparePath == "" {
		return nil
	}

	prev, err := baseline.Load(cfg.Baseline.ComparePath, cliVersion)
	if err != nil {
		return err
	}
	report := diff.Compare(prev, b)
	fmt.Print(diff.Render(report))

	if cfg.Baseline.FailOnDrift && report.Severity.AtLeast(diff.SeverityWarning) {
		return &exitError{code: exitDrift}
	}
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*mcp.Client, *mcp.Discovery, error) {
	driver, err := transport.New(cfg.TransportConfig())
	if err != nil {
		return nil, nil, err
	}

	client := mcp.NewClient(driver)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	info, err := client.Initialize(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	slog.Info("Connected",
		"server", info.Name,
		"version", info.Version,
		"protocol", client.ProtocolVersion(),
	)

	discovery, err := client.Discover(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	slog.Info("Discovery complete",
		"tools", len(discovery.Tools),
		"prompts", len(discovery.Prompts),
		"resources", len(discovery.Resources),
	)
	return client, discovery, nil
}

// buildProviderChain assembles the primary provider plus configured
// fallbacks, with usage fanned into the budget tracker and metrics.
func buildProviderChain(ctx context.Context, cfg *config.Config, tracker *budget.Tracker, metrics *observability.Metrics) (llms.Provider, error) {
	resolver := credentials.NewResolver(".")

	onUsage := func(model string, usage llms.Usage) {
		tracker.RecordUsage(model, usage.InputTokens, usage.OutputTokens)
		metrics.RecordTokens(ctx, model, usage.InputTokens, usage.OutputTokens)
	}

	policy := retry.DefaultPolicy()
	if cfg.LLM.MaxRetries > 0 {
		policy.MaxAttempts = cfg.LLM.MaxRetries
	}

	reg := llms.NewRegistry()
	seen := make(map[string]bool)
	var names []string
	for _, name := range append([]string{cfg.LLM.Provider}, cfg.LLM.Fallbacks...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
		if err := registerProvider(cfg, resolver, reg, name, onUsage); err != nil {
			reg.CloseAll()
			return nil, err
		}
	}

	providers := make([]llms.Provider, 0, len(names))
	for _, name := range names {
		p, err := reg.GetProvider(name)
		if err != nil {
			reg.CloseAll()
			return nil, err
		}
		providers = append(providers, fallback.NewGuard(p, fallback.WithPolicy(policy)))
	}

	if len(providers) == 1 {
		return &meteredProvider{Provider: providers[0], metrics: metrics}, nil
	}
	chain, err := fallback.New(providers)
	if err != nil {
		return nil, err
	}
	return &meteredProvider{Provider: chain, metrics: metrics}, nil
}

// meteredProvider records call durations and outcomes around the chain.
type meteredProvider struct {
	llms.Provider
	metrics *observability.Metrics
}

func (m *meteredProvider) Chat(ctx context.Context, messages []llms.Message, opts *llms.Options) (string, error) {
	start := time.Now()
	text, err := m.Provider.Chat(ctx, messages, opts)
	info := m.Provider.Info()
	m.metrics.RecordLLMCall(ctx, info.ID, info.DefaultModel, time.Since(start), err)
	return text, err
}

func (m *meteredProvider) Complete(ctx context.Context, prompt string, opts *llms.Options) (string, error) {
	start := time.Now()
	text, err := m.Provider.Complete(ctx, prompt, opts)
	info := m.Provider.Info()
	m.metrics.RecordLLMCall(ctx, info.ID, info.DefaultModel, time.Since(start), err)
	return text, err
}

// meteredClient records tool call metrics around the MCP client.
type meteredClient struct {
	*mcp.Client
	metrics *observability.Metrics
}

func (m *meteredClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	start := time.Now()
	res, err := m.Client.CallTool(ctx, name, args)
	m.metrics.RecordToolCall(ctx, name, time.Since(start), err != nil || (res != nil && res.IsError))
	return res, err
}

func registerProvider(cfg *config.Config, resolver *credentials.Resolver, reg *llms.Registry, name string, onUsage llms.UsageCallback) error {
	pc := llms.ProviderConfig{
		Type:    name,
		OnUsage: onUsage,
		Timeout: int(cfg.LLM.Timeout / time.Second),
	}
	if name == cfg.LLM.Provider {
		pc.Model = cfg.LLM.Model
		pc.BaseURL = cfg.LLM.BaseURL
	}

	if env := credentials.ProviderEnvVar(name); env != "" {
		key, source, err := resolver.Resolve(env)
		if err != nil {
			return err
		}
		slog.Debug("Resolved credential", "provider", name, "source", source)
		pc.APIKey = key
	}

	_, err := reg.CreateFromConfig(name, pc)
	return err
}

func interviewOptions(cfg *config.Config, tracker *budget.Tracker) (interview.Options, error) {
	opts := interview.Options{
		MaxQuestionsPerTool: cfg.Test.MaxQuestionsPerTool,
		ParallelPersonas:    cfg.Test.ParallelPersonas,
		PersonaConcurrency:  cfg.Test.PersonaConcurrency,
		SkipErrorTests:      cfg.Test.SkipErrorTests,
		Structural:          cfg.Mode == config.ModeStructural,
		ScenariosOnly:       cfg.Scenarios.Only,
		DiscoverWorkflows:   cfg.Workflows.Discover,
		MaxWorkflows:        cfg.Workflows.MaxWorkflows,
		DisableCache:        !cfg.Cache.Enabled,
		Tracker:             tracker,
		Timeout:             0,
		OnProgress: func(p interview.Progress) {
			slog.Info("Interview progress",
				"phase", p.Phase,
				"persona", p.Persona,
				"tool", p.Tool,
				"completed", p.Completed,
				"total", p.Total,
			)
		},
	}

	var custom []interview.Persona
	if cfg.Test.PersonaPath != "" {
		var err error
		custom, err = interview.LoadPersonas(cfg.Test.PersonaPath)
		if err != nil {
			return opts, err
		}
	}
	personas, err := interview.ResolvePersonas(cfg.Test.Personas, custom)
	if err != nil {
		return opts, err
	}
	opts.Personas = personas

	if cfg.Scenarios.Path != "" {
		opts.Scenarios, err = scenario.Load(cfg.Scenarios.Path)
		if err != nil {
			return opts, err
		}
	}
	if cfg.Workflows.Path != "" {
		opts.Workflows, err = workflow.Load(cfg.Workflows.Path)
		if err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func budgetLimits(cfg *config.Config) budget.Limits {
	limits := budget.DefaultLimits()
	if cfg.LLM.MaxTokens > 0 {
		limits.MaxTokens = cfg.LLM.MaxTokens
	}
	return limits
}

func baselinePath(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.Baseline.Path != "" {
		return cfg.Baseline.Path
	}
	return filepath.Join(cfg.Output.Dir, "baseline.json")
}

func serverCommand(cfg *config.Config) string {
	if cfg.Server.Command != "" {
		return strings.TrimSpace(cfg.Server.Command + " " + strings.Join(cfg.Server.Args, " "))
	}
	return cfg.Server.URL
}
