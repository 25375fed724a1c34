// Package config defines the audit configuration schema and its koanf-based
// loader. Unknown keys pass through; type mismatches and bad values fail
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/transport"
)

type Mode string

const (
	ModeStructural Mode = "structural"
	ModeExplore    Mode = "explore"
)

type ServerConfig struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Transport string            `yaml:"transport"`
	Timeout   time.Duration     `yaml:"timeout"`
	Preflight *bool             `yaml:"preflight"`
}

type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"baseUrl"`
	Fallbacks  []string      `yaml:"fallbacks"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxTokens  int64         `yaml:"maxTokens"`
	MaxRetries int           `yaml:"maxRetries"`
}

type TestConfig struct {
	Personas            []string `yaml:"personas"`
	PersonaPath         string   `yaml:"personaPath"`
	MaxQuestionsPerTool int      `yaml:"maxQuestionsPerTool"`
	ParallelPersonas    bool     `yaml:"parallelPersonas"`
	PersonaConcurrency  int      `yaml:"personaConcurrency"`
	SkipErrorTests      bool     `yaml:"skipErrorTests"`
}

type ScenariosConfig struct {
	Path string `yaml:"path"`
	Only bool   `yaml:"only"`
}

type WorkflowsConfig struct {
	Path         string `yaml:"path"`
	Discover     bool   `yaml:"discover"`
	MaxWorkflows int    `yaml:"maxWorkflows"`
	TrackState   bool   `yaml:"trackState"`
}

type BaselineConfig struct {
	Path        string `yaml:"path"`
	ComparePath string `yaml:"comparePath"`
	FailOnDrift bool   `yaml:"failOnDrift"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Verbose bool   `yaml:"verbose"`
}

type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

type Config struct {
	Mode      Mode            `yaml:"mode"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Test      TestConfig      `yaml:"test"`
	Scenarios ScenariosConfig `yaml:"scenarios"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Baseline  BaselineConfig  `yaml:"baseline"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Output    OutputConfig    `yaml:"output"`
}

// Defaults are loaded below the file so the file always wins.
func Defaults() map[string]any {
	return map[string]any{
		"mode":                     string(ModeExplore),
		"server.transport":         string(transport.KindStdio),
		"server.timeout":           "30s",
		"llm.provider":             "anthropic",
		"llm.timeout":              "120s",
		"llm.maxRetries":           3,
		"test.maxQuestionsPerTool": 5,
		"test.parallelPersonas":    true,
		"test.personaConcurrency":  3,
		"workflows.maxWorkflows":   5,
		"cache.enabled":            true,
		"logging.level":            "info",
		"output.dir":               ".",
		"output.format":            "json",
	}
}

// Validate checks semantic rules after unmarshal.
func (c *Config) Validate() error {
	fail := func(key, msg string) error {
		return errdefs.New(errdefs.CodeValidationConfig,
			fmt.Sprintf("config %s: %s", key, msg))
	}

	switch c.Mode {
	case ModeStructural, ModeExplore:
	default:
		return fail("mode", fmt.Sprintf("must be structural or explore, got %q", c.Mode))
	}

	kind, err := transport.ParseKind(c.Server.Transport)
	if err != nil {
		return fail("server.transport", err.Error())
	}
	if kind == transport.KindStdio {
		if c.Server.Command == "" {
			return fail("server.command", "required for the stdio transport")
		}
	} else if c.Server.URL == "" {
		return fail("server.url", fmt.Sprintf("required for the %s transport", kind))
	}

	if c.Mode == ModeExplore && c.LLM.Provider == "" {
		return fail("llm.provider", "required in explore mode")
	}
	if c.Test.MaxQuestionsPerTool < 1 {
		return fail("test.maxQuestionsPerTool", "must be at least 1")
	}
	if c.Test.PersonaConcurrency < 1 {
		return fail("test.personaConcurrency", "must be at least 1")
	}

	switch c.Output.Format {
	case "agents.md", "json", "both":
	default:
		return fail("output.format", fmt.Sprintf("must be agents.md, json, or both, got %q", c.Output.Format))
	}

	if c.Baseline.FailOnDrift && c.Baseline.ComparePath == "" {
		return fail("baseline.comparePath", "required when failOnDrift is set")
	}
	return nil
}

// TransportConfig assembles the transport driver configuration.
func (c *Config) TransportConfig() transport.Config {
	kind, _ := transport.ParseKind(c.Server.Transport)
	return transport.Config{
		Kind:           kind,
		Command:        c.Server.Command,
		Args:           c.Server.Args,
		Env:            c.Server.Env,
		URL:            c.Server.URL,
		Headers:        c.Server.Headers,
		Preflight:      c.Server.Preflight,
		ConnectTimeout: c.Server.Timeout,
	}
}
