package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bellwether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	path := writeConfig(t, `
server:
  command: npx some-server
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeExplore, cfg.Mode)
	assert.Equal(t, string(transport.KindStdio), cfg.Server.Transport)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Test.MaxQuestionsPerTool)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: structural
server:
  transport: http
  url: http://localhost:8931/mcp
  timeout: 5s
test:
  maxQuestionsPerTool: 2
  parallelPersonas: false
cache:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeStructural, cfg.Mode)
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, "http://localhost:8931/mcp", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 2, cfg.Test.MaxQuestionsPerTool)
	assert.False(t, cfg.Test.ParallelPersonas)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BW_TEST_URL", "http://env.example.com/mcp")
	t.Setenv("BW_TEST_QUESTIONS", "7")
	t.Setenv("BW_TEST_PARALLEL", "false")

	path := writeConfig(t, `
mode: structural
server:
  transport: sse
  url: ${BW_TEST_URL}
test:
  maxQuestionsPerTool: ${BW_TEST_QUESTIONS}
  parallelPersonas: ${BW_TEST_PARALLEL}
llm:
  model: ${BW_TEST_ABSENT:-claude-sonnet-4}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env.example.com/mcp", cfg.Server.URL)
	assert.Equal(t, 7, cfg.Test.MaxQuestionsPerTool, "expanded values are re-typed")
	assert.False(t, cfg.Test.ParallelPersonas)
	assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model, "default applies when the variable is unset")
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			"bad mode",
			"mode: chaotic\nserver:\n  command: x\n",
			"mode",
		},
		{
			"stdio without command",
			"mode: structural\n",
			"server.command",
		},
		{
			"http without url",
			"mode: structural\nserver:\n  transport: http\n",
			"server.url",
		},
		{
			"unknown transport",
			"mode: structural\nserver:\n  transport: carrier-pigeon\n",
			"server.transport",
		},
		{
			"zero questions",
			"mode: structural\nserver:\n  command: x\ntest:\n  maxQuestionsPerTool: 0\n",
			"maxQuestionsPerTool",
		},
		{
			"bad output format",
			"mode: structural\nserver:\n  command: x\noutput:\n  format: xml\n",
			"output.format",
		},
		{
			"failOnDrift without comparePath",
			"mode: structural\nserver:\n  command: x\nbaseline:\n  failOnDrift: true\n",
			"comparePath",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errdefs.CodeValidationConfig, errdefs.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeValidationConfig, errdefs.CodeOf(err))
}

func TestTransportConfig(t *testing.T) {
	path := writeConfig(t, `
mode: structural
server:
  transport: streamable-http
  url: http://localhost:9000/mcp
  headers:
    Authorization: Bearer token
  timeout: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tc := cfg.TransportConfig()
	assert.Equal(t, transport.KindStreamableHTTP, tc.Kind)
	assert.Equal(t, "http://localhost:9000/mcp", tc.URL)
	assert.Equal(t, "Bearer token", tc.Headers["Authorization"])
	assert.Equal(t, 10*time.Second, tc.ConnectTimeout)
}
