package diff

import (
	"fmt"
	"strings"
)

// Render formats the report for terminal output.
func Render(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Drift report: severity=%s risk=%d migration=%s\n",
		r.Severity, r.RiskScore, r.MigrationComplexity)
	fmt.Fprintf(&b, "Baselines: %s -> %s\n", r.OldHash, r.NewHash)

	if r.Severity == SeverityNone {
		b.WriteString("No drift detected.\n")
		return b.String()
	}

	if len(r.ToolsAdded) > 0 {
		fmt.Fprintf(&b, "\nTools added (%d):\n", len(r.ToolsAdded))
		for _, name := range r.ToolsAdded {
			fmt.Fprintf(&b, "  + %s\n", name)
		}
	}
	if len(r.ToolsRemoved) > 0 {
		fmt.Fprintf(&b, "\nTools removed (%d):\n", len(r.ToolsRemoved))
		for _, name := range r.ToolsRemoved {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}

	if len(r.ToolsModified) > 0 {
		fmt.Fprintf(&b, "\nTools modified (%d):\n", len(r.ToolsModified))
		for _, td := range r.ToolsModified {
			marker := " "
			if td.Breaking {
				marker = "!"
			}
			fmt.Fprintf(&b, "  %s %s (risk %d)\n", marker, td.Name, td.RiskScore)
			for _, c := range td.Changes {
				flag := ""
				if c.Breaking {
					flag = " [breaking]"
				}
				fmt.Fprintf(&b, "      %s: %s%s\n", c.Kind, c.Description, flag)
			}
			if td.FingerprintChanged {
				b.WriteString("      response fingerprint changed\n")
			}
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  * %s\n", w)
		}
	}

	if len(r.AffectedWorkflows) > 0 {
		fmt.Fprintf(&b, "\nAffected workflows: %s\n", strings.Join(r.AffectedWorkflows, ", "))
	}

	if len(r.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for i, item := range r.ActionItems {
			fmt.Fprintf(&b, "  %d. [%s] %s: %s\n     -> %s\n",
				i+1, item.Priority, item.Tool, item.Issue, item.Remediation)
		}
	}

	return b.String()
}
