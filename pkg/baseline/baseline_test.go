package baseline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/interview"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
)

func sampleResult() *interview.Result {
	return &interview.Result{
		Discovery: &mcp.Discovery{
			ServerInfo:      mcp.Implementation{Name: "notes-server", Version: "1.2.0"},
			ProtocolVersion: "2025-06-18",
			Capabilities:    []string{"tools", "prompts"},
			Tools: []mcp.Tool{
				{
					Name:        "get_note",
					Description: "Fetch a note by id",
					InputSchema: json.RawMessage(`{"properties":{"id":{"type":"string"}},"required":["id"]}`),
				},
				{
					Name:        "create_note",
					Description: "Create a note",
					InputSchema: json.RawMessage(`{"properties":{"title":{"type":"string"}},"required":["title"]}`),
				},
			},
			Prompts:   []mcp.Prompt{{Name: "summarize"}},
			Timestamp: time.Now().UTC(),
		},
		Personas: []string{"explorer"},
		ToolProfiles: []interview.ToolProfile{
			{
				Name: "create_note",
				Interactions: []interview.Interaction{
					{
						Tool:            "create_note",
						Question:        "create a basic note",
						Category:        "happy_path",
						Response:        map[string]any{"id": "n1", "title": "hello"},
						LatencyMs:       12,
						ExpectedOutcome: "success",
						Assessment:      interview.OutcomeAssessment{Correct: true},
					},
					{
						Tool:            "create_note",
						Question:        "missing title",
						Category:        "error",
						Response:        map[string]any{"text": "title is required"},
						IsError:         true,
						ExpectedOutcome: "error",
						Assessment:      interview.OutcomeAssessment{Correct: true},
					},
				},
				BehavioralNotes: []string{"returns the created note with an id"},
				Limitations:     []string{"requires title"},
				Confidence:      1,
			},
		},
		StartedAt:  time.Now().UTC(),
		DurationMs: 1500,
	}
}

func TestBuild(t *testing.T) {
	b, err := Build(sampleResult(), ModeExplore, "0.1.0", "npx notes-server")
	require.NoError(t, err)

	assert.Equal(t, "0.1.0", b.Version)
	assert.Equal(t, ModeExplore, b.Metadata.Mode)
	assert.NotEmpty(t, b.Metadata.AuditID)
	assert.Equal(t, "notes-server", b.Server.Name)
	assert.Equal(t, "2025-06-18", b.Server.ProtocolVersion)

	require.Len(t, b.Capabilities.Tools, 2)
	assert.Equal(t, "create_note", b.Capabilities.Tools[0].Name, "tools sorted by name")
	assert.Equal(t, "get_note", b.Capabilities.Tools[1].Name)
	assert.NotEmpty(t, b.Capabilities.Tools[0].SchemaHash)
	assert.NotEmpty(t, b.Capabilities.Tools[0].ResponseFingerprint)
	assert.NotEmpty(t, b.Capabilities.Tools[0].ErrorPatterns)

	assert.Len(t, b.Interviews, 2)
	require.Len(t, b.ToolProfiles, 1)
	assert.Equal(t, []string{"returns the created note with an id"}, b.ToolProfiles[0].Expects)
	assert.Equal(t, []string{"requires title"}, b.ToolProfiles[0].Requires)
	require.Len(t, b.Assertions, 2)

	assert.True(t, b.Verify())
}

func TestBuild_HashIgnoresTimingAndMetadata(t *testing.T) {
	first, err := Build(sampleResult(), ModeExplore, "0.1.0", "npx notes-server")
	require.NoError(t, err)

	second := sampleResult()
	second.DurationMs = 999999
	second.StartedAt = second.StartedAt.Add(time.Hour)
	second.ToolProfiles[0].Interactions[0].LatencyMs = 5000
	second.Summary = "a different free-text summary"

	b, err := Build(second, ModeExplore, "0.1.0", "npx notes-server")
	require.NoError(t, err)

	assert.Equal(t, first.Hash, b.Hash,
		"same discovery and assertions must hash identically")
}

func TestBuild_HashStableAcrossObservedLatencies(t *testing.T) {
	build := func(latency int64) *Baseline {
		r := sampleResult()
		for i := range r.ToolProfiles[0].Interactions {
			r.ToolProfiles[0].Interactions[i].LatencyMs = latency
		}
		p := interview.SynthesizeProfile(context.Background(), nil,
			"create_note", r.ToolProfiles[0].Interactions)
		r.ToolProfiles = []interview.ToolProfile{p}

		b, err := Build(r, ModeStructural, "0.1.0", "x")
		require.NoError(t, err)
		return b
	}

	fast := build(5)
	slow := build(250)

	require.Len(t, fast.ToolProfiles, 1)
	assert.NotEmpty(t, fast.ToolProfiles[0].Notes, "latency observations land in profile notes")
	for _, a := range fast.Assertions {
		assert.NotContains(t, a.Text, "latency", "timing never becomes an assertion")
	}
	assert.Equal(t, fast.Hash, slow.Hash,
		"identical discovery hashes identically whatever the observed latencies")
	assert.True(t, fast.Verify())
}

func TestBuild_HashSeesStructuralChange(t *testing.T) {
	first, err := Build(sampleResult(), ModeExplore, "0.1.0", "x")
	require.NoError(t, err)

	changed := sampleResult()
	changed.Discovery.Tools[0].InputSchema = json.RawMessage(
		`{"properties":{"id":{"type":"string"},"verbose":{"type":"boolean"}},"required":["id"]}`)

	b, err := Build(changed, ModeExplore, "0.1.0", "x")
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, b.Hash)
}

func TestVerify_DetectsTampering(t *testing.T) {
	b, err := Build(sampleResult(), ModeExplore, "0.1.0", "x")
	require.NoError(t, err)
	require.True(t, b.Verify())

	b.Capabilities.Tools[0].Description = "tampered"
	assert.False(t, b.Verify())
}

func TestErrorPatterns_NormalizeVolatileFragments(t *testing.T) {
	profile := interview.ToolProfile{
		Name: "t",
		Interactions: []interview.Interaction{
			{IsError: true, Response: map[string]any{"text": "Timeout after 300ms on attempt 2"}},
			{IsError: true, Response: map[string]any{"text": "timeout after 150ms on attempt 7"}},
			{IsError: true, Response: map[string]any{"text": "permission denied"}},
		},
	}

	patterns := errorPatterns(profile)
	assert.Equal(t, []string{"permission denied", "timeout after ms on attempt"}, patterns)
}

func TestNormalizeErrorText_TruncatesOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("a", 199) + "é failure"

	out := normalizeErrorText(text)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("a", 199), out,
		"truncation backs off to the previous rune boundary")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	b, err := Build(sampleResult(), ModeStructural, "0.1.0", "x")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "baseline.json")
	require.NoError(t, Save(b, path))

	loaded, err := Load(path, "0.1.5")
	require.NoError(t, err)
	assert.Equal(t, b.Hash, loaded.Hash)
	assert.True(t, loaded.Verify(), "hash survives a store round trip")
}

func TestLoad_MajorVersionGate(t *testing.T) {
	b, err := Build(sampleResult(), ModeExplore, "1.4.0", "x")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, Save(b, path))

	_, err = Load(path, "2.0.0")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeValidationConfig, errdefs.CodeOf(err))

	_, err = Load(path, "1.9.9")
	assert.NoError(t, err)

	_, err = Load(path, "")
	assert.NoError(t, err, "empty CLI version skips the gate")
}

func TestLoad_RejectsMissingVersionOrHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, Save(&Baseline{Version: "0.1.0"}, path))

	_, err := Load(path, "0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing version or hash")
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible("0.1.0", "0.9.9"))
	assert.True(t, Compatible("v1.0.0", "1.2.3"))
	assert.False(t, Compatible("1.0.0", "2.0.0"))
}
