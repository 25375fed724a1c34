// Package diff compares two baselines and classifies every change by
// severity, producing a migration plan for drift found in CI.
package diff

import (
	"fmt"
	"sort"

	"github.com/bellwetherhq/bellwether/pkg/baseline"
)

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBreaking Severity = "breaking"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityBreaking: 3,
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// ToolDiff collects everything that changed about one tool.
type ToolDiff struct {
	Name               string         `json:"name"`
	Changes            []SchemaChange `json:"changes,omitempty"`
	HashChanged        bool           `json:"hashChanged"`
	FingerprintChanged bool           `json:"fingerprintChanged,omitempty"`
	RiskScore          int            `json:"riskScore"`
	Breaking           bool           `json:"breaking"`
}

type ActionItem struct {
	Priority    Priority `json:"priority"`
	Tool        string   `json:"tool"`
	Issue       string   `json:"issue"`
	Remediation string   `json:"remediation"`
}

// Report is the structured outcome of comparing two baselines.
type Report struct {
	Severity            Severity     `json:"severity"`
	OldHash             string       `json:"oldHash"`
	NewHash             string       `json:"newHash"`
	ToolsAdded          []string     `json:"toolsAdded,omitempty"`
	ToolsRemoved        []string     `json:"toolsRemoved,omitempty"`
	ToolsModified       []ToolDiff   `json:"toolsModified,omitempty"`
	RiskScore           int          `json:"riskScore"`
	MigrationComplexity Complexity   `json:"migrationComplexity"`
	ActionItems         []ActionItem `json:"actionItems,omitempty"`
	AffectedWorkflows   []string     `json:"affectedWorkflows,omitempty"`
	Warnings            []string     `json:"warnings,omitempty"`
}

// Risk thresholds for the severity bands.
const (
	breakingRiskThreshold = 50
	warningRiskThreshold  = 10
)

// Compare diffs two baselines. old is the reference; next is the candidate.
func Compare(old, next *baseline.Baseline) *Report {
	report := &Report{
		Severity: SeverityNone,
		OldHash:  old.Hash,
		NewHash:  next.Hash,
	}

	oldTools := toolsByName(old)
	newTools := toolsByName(next)

	for name := range newTools {
		if _, ok := oldTools[name]; !ok {
			report.ToolsAdded = append(report.ToolsAdded, name)
		}
	}
	for name := range oldTools {
		if _, ok := newTools[name]; !ok {
			report.ToolsRemoved = append(report.ToolsRemoved, name)
		}
	}
	sort.Strings(report.ToolsAdded)
	sort.Strings(report.ToolsRemoved)

	names := make([]string, 0, len(oldTools))
	for name := range oldTools {
		if _, ok := newTools[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	breakingChanges := len(report.ToolsRemoved)

	for _, name := range names {
		before, after := oldTools[name], newTools[name]

		td := ToolDiff{
			Name:        name,
			HashChanged: before.SchemaHash != after.SchemaHash,
		}
		if before.ResponseFingerprint != "" && after.ResponseFingerprint != "" &&
			before.ResponseFingerprint != after.ResponseFingerprint {
			td.FingerprintChanged = true
		}

		if td.HashChanged {
			td.Changes = CompareSchemas(before.InputSchema, after.InputSchema)
			for _, c := range td.Changes {
				td.RiskScore += changeWeight(c.Kind)
				if c.Breaking {
					td.Breaking = true
					breakingChanges++
				}
			}
			if td.RiskScore > 100 {
				td.RiskScore = 100
			}
		}

		if !td.HashChanged && td.FingerprintChanged {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"tool %q: schema hash unchanged but response fingerprint drifted (%s -> %s); schema and behavior signals disagree",
				name, before.ResponseFingerprint, after.ResponseFingerprint))
			report.Severity = maxSeverity(report.Severity, SeverityWarning)
		}

		if td.HashChanged || td.FingerprintChanged {
			report.ToolsModified = append(report.ToolsModified, td)
		}
	}

	report.RiskScore = totalRisk(report)
	report.Severity = maxSeverity(report.Severity, deriveSeverity(report, breakingChanges))
	report.MigrationComplexity = complexityOf(breakingChanges)
	report.ActionItems = actionItems(report)
	report.AffectedWorkflows = affectedWorkflows(old, report)
	return report
}

func toolsByName(b *baseline.Baseline) map[string]baseline.ToolCapability {
	out := make(map[string]baseline.ToolCapability, len(b.Capabilities.Tools))
	for _, t := range b.Capabilities.Tools {
		out[t.Name] = t
	}
	return out
}

func totalRisk(r *Report) int {
	risk := 30*len(r.ToolsRemoved) + 2*len(r.ToolsAdded)
	for _, td := range r.ToolsModified {
		risk += td.RiskScore
	}
	if risk > 100 {
		risk = 100
	}
	return risk
}

// deriveSeverity applies the bands: any removal or breaking change (every
// tightening is breaking) forces breaking, then risk thresholds decide.
func deriveSeverity(r *Report, breakingChanges int) Severity {
	switch {
	case breakingChanges > 0 || r.RiskScore >= breakingRiskThreshold:
		return SeverityBreaking
	case r.RiskScore >= warningRiskThreshold:
		return SeverityWarning
	case len(r.ToolsAdded) > 0 || len(r.ToolsModified) > 0:
		return SeverityInfo
	default:
		return SeverityNone
	}
}

func complexityOf(breakingChanges int) Complexity {
	switch {
	case breakingChanges == 0:
		return ComplexityTrivial
	case breakingChanges <= 2:
		return ComplexitySimple
	case breakingChanges <= 5:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

func actionItems(r *Report) []ActionItem {
	var items []ActionItem

	for _, name := range r.ToolsRemoved {
		items = append(items, ActionItem{
			Priority:    PriorityCritical,
			Tool:        name,
			Issue:       "tool removed",
			Remediation: fmt.Sprintf("remove all call sites of %q or pin the previous server version", name),
		})
	}

	for _, td := range r.ToolsModified {
		for _, c := range td.Changes {
			item := ActionItem{
				Tool:        td.Name,
				Issue:       c.Description,
				Remediation: remediationFor(c),
			}
			switch {
			case c.Breaking:
				item.Priority = PriorityHigh
			case c.Kind == ChangeConstraintRelaxed || c.Kind == ChangeEnumValueAdded:
				item.Priority = PriorityLow
			default:
				item.Priority = PriorityMedium
			}
			items = append(items, item)
		}
		if td.FingerprintChanged && !td.HashChanged {
			items = append(items, ActionItem{
				Priority:    PriorityMedium,
				Tool:        td.Name,
				Issue:       "response shape drifted without a schema change",
				Remediation: "re-run the interview and inspect the new output shape before trusting consumers of this tool",
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return priorityRank[items[i].Priority] < priorityRank[items[j].Priority]
	})
	return items
}

func remediationFor(c SchemaChange) string {
	switch c.Kind {
	case ChangeParameterRemoved:
		return fmt.Sprintf("stop passing %s", c.Path)
	case ChangeParameterRequiredAdded:
		return fmt.Sprintf("supply %s on every call", c.Path)
	case ChangeParameterTypeChanged:
		return fmt.Sprintf("convert %s from %v to %v", c.Path, c.Before, c.After)
	case ChangeEnumValueRemoved:
		return fmt.Sprintf("stop sending the removed enum value(s) for %s", c.Path)
	case ChangeConstraintTightened, ChangeConstraintAdded:
		return fmt.Sprintf("validate %s against the new constraint before calling", c.Path)
	default:
		return "review the change and update call sites if affected"
	}
}

// affectedWorkflows names workflows in the reference baseline whose tool
// sequence touches a removed or modified tool.
func affectedWorkflows(old *baseline.Baseline, r *Report) []string {
	touched := make(map[string]bool)
	for _, name := range r.ToolsRemoved {
		touched[name] = true
	}
	for _, td := range r.ToolsModified {
		touched[td.Name] = true
	}
	if len(touched) == 0 {
		return nil
	}

	var affected []string
	for _, w := range old.Workflows {
		if w == nil {
			continue
		}
		for _, step := range w.Steps {
			if touched[step.Tool] {
				affected = append(affected, w.Workflow)
				break
			}
		}
	}
	sort.Strings(affected)
	return affected
}
