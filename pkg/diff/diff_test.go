package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/baseline"
	"github.com/bellwetherhq/bellwether/pkg/workflow"
)

func capTool(name, inputSchema, fingerprint string) baseline.ToolCapability {
	return baseline.ToolCapability{
		Name:                name,
		InputSchema:         json.RawMessage(inputSchema),
		SchemaHash:          baseline.SchemaHash(json.RawMessage(inputSchema)),
		ResponseFingerprint: fingerprint,
	}
}

func baselineWith(tools ...baseline.ToolCapability) *baseline.Baseline {
	return &baseline.Baseline{
		Version:      "0.1.0",
		Hash:         "h-" + tools[0].SchemaHash,
		Capabilities: baseline.Capabilities{Tools: tools},
	}
}

func TestCompare_NoDrift(t *testing.T) {
	b := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp1"))

	report := Compare(b, b)

	assert.Equal(t, SeverityNone, report.Severity)
	assert.Zero(t, report.RiskScore)
	assert.Empty(t, report.ToolsModified)
	assert.Equal(t, ComplexityTrivial, report.MigrationComplexity)
	assert.Contains(t, Render(report), "No drift detected")
}

func TestCompare_ToolAddedIsInfo(t *testing.T) {
	old := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp1"))
	next := baselineWith(
		capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp1"),
		capTool("suggest", `{"properties":{"prefix":{"type":"string"}}}`, "fp2"),
	)

	report := Compare(old, next)

	assert.Equal(t, SeverityInfo, report.Severity)
	assert.Equal(t, []string{"suggest"}, report.ToolsAdded)
	assert.Equal(t, 2, report.RiskScore)
}

func TestCompare_ToolRemovedIsBreaking(t *testing.T) {
	old := baselineWith(
		capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp1"),
		capTool("delete_index", `{"properties":{"name":{"type":"string"}}}`, "fp2"),
	)
	next := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp1"))

	report := Compare(old, next)

	assert.Equal(t, SeverityBreaking, report.Severity)
	assert.Equal(t, []string{"delete_index"}, report.ToolsRemoved)
	assert.Equal(t, ComplexitySimple, report.MigrationComplexity)

	require.NotEmpty(t, report.ActionItems)
	assert.Equal(t, PriorityCritical, report.ActionItems[0].Priority)
	assert.Equal(t, "delete_index", report.ActionItems[0].Tool)
	assert.Equal(t, "tool removed", report.ActionItems[0].Issue)
}

func TestCompare_SchemaChangeSeverityBands(t *testing.T) {
	old := baselineWith(capTool("search",
		`{"properties":{"q":{"type":"string","description":"query"}}}`, ""))

	// A description edit alone (weight 1) stays informational.
	cosmetic := baselineWith(capTool("search",
		`{"properties":{"q":{"type":"string","description":"the query"}}}`, ""))
	report := Compare(old, cosmetic)
	assert.Equal(t, SeverityInfo, report.Severity)
	require.Len(t, report.ToolsModified, 1)
	assert.True(t, report.ToolsModified[0].HashChanged)
	assert.Equal(t, 1, report.ToolsModified[0].RiskScore)

	// A type change (weight 20, breaking) forces breaking severity.
	typeChanged := baselineWith(capTool("search",
		`{"properties":{"q":{"type":"integer","description":"query"}}}`, ""))
	report = Compare(old, typeChanged)
	assert.Equal(t, SeverityBreaking, report.Severity)
	require.Len(t, report.ToolsModified, 1)
	assert.True(t, report.ToolsModified[0].Breaking)
}

func TestCompare_RelaxedConstraintIsWarningByRisk(t *testing.T) {
	old := baselineWith(
		capTool("a", `{"properties":{"p":{"type":"string","maxLength":10}}}`, ""),
		capTool("b", `{"properties":{"p":{"type":"string","maxLength":10}}}`, ""),
	)
	next := baselineWith(
		capTool("a", `{"properties":{"p":{"type":"string","maxLength":20}}}`, ""),
		capTool("b", `{"properties":{"p":{"type":"string","maxLength":20}}}`, ""),
	)

	// Two relaxations at weight 5 each reach the warning band without
	// any breaking change.
	report := Compare(old, next)
	assert.Equal(t, SeverityWarning, report.Severity)
	assert.Equal(t, 10, report.RiskScore)
	assert.Equal(t, ComplexityTrivial, report.MigrationComplexity)
}

func TestCompare_FingerprintDriftWithoutSchemaChange(t *testing.T) {
	old := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp-old"))
	next := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp-new"))

	report := Compare(old, next)

	assert.Equal(t, SeverityWarning, report.Severity)
	require.Len(t, report.ToolsModified, 1)
	assert.False(t, report.ToolsModified[0].HashChanged)
	assert.True(t, report.ToolsModified[0].FingerprintChanged)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "signals disagree")

	require.NotEmpty(t, report.ActionItems)
	assert.Equal(t, "response shape drifted without a schema change", report.ActionItems[0].Issue)
}

func TestCompare_MissingFingerprintIsNotDrift(t *testing.T) {
	old := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, "fp-old"))
	next := baselineWith(capTool("search", `{"properties":{"q":{"type":"string"}}}`, ""))

	report := Compare(old, next)
	assert.Equal(t, SeverityNone, report.Severity)
	assert.Empty(t, report.ToolsModified)
}

func TestCompare_AffectedWorkflows(t *testing.T) {
	old := baselineWith(
		capTool("create_user", `{"properties":{"name":{"type":"string"}}}`, ""),
		capTool("get_user", `{"properties":{"id":{"type":"string"}}}`, ""),
		capTool("ping", `{}`, ""),
	)
	old.Workflows = []*workflow.Result{
		{Workflow: "user-lifecycle", Steps: []workflow.StepResult{{Tool: "create_user"}, {Tool: "get_user"}}},
		{Workflow: "healthcheck", Steps: []workflow.StepResult{{Tool: "ping"}}},
	}
	next := baselineWith(
		capTool("create_user", `{"properties":{"name":{"type":"string"},"email":{"type":"string"}},"required":["email"]}`, ""),
		capTool("get_user", `{"properties":{"id":{"type":"string"}}}`, ""),
		capTool("ping", `{}`, ""),
	)

	report := Compare(old, next)

	assert.Equal(t, []string{"user-lifecycle"}, report.AffectedWorkflows,
		"only workflows touching a changed tool are affected")
}

func TestRender_ListsChangesAndActions(t *testing.T) {
	old := baselineWith(
		capTool("search", `{"properties":{"q":{"type":"string"}},"required":["q"]}`, ""),
		capTool("legacy", `{}`, ""),
	)
	next := baselineWith(capTool("search", `{"properties":{"q":{"type":"integer"}},"required":["q"]}`, ""))

	out := Render(Compare(old, next))

	assert.Contains(t, out, "severity=breaking")
	assert.Contains(t, out, "- legacy")
	assert.Contains(t, out, "! search")
	assert.Contains(t, out, "parameter_type_changed")
	assert.Contains(t, out, "[breaking]")
	assert.Contains(t, out, "Action items:")
	assert.Contains(t, out, "[critical] legacy: tool removed")
}
