package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bellwetherhq/bellwether/pkg/llms"
)

const synthesisPromptTemplate = `You audited an API tool through a series of test calls. Summarize what you learned.

Tool: %s
Interactions (question, category, expected, outcome, correct):
%s

Respond with JSON only:
{
  "behavioralNotes": ["observed behaviors, one per entry"],
  "limitations": ["observed limits or failure modes"],
  "securityNotes": ["security-relevant observations, empty if none"]
}`

type synthesisNotes struct {
	BehavioralNotes []string `json:"behavioralNotes"`
	Limitations     []string `json:"limitations"`
	SecurityNotes   []string `json:"securityNotes"`
}

// SynthesizeProfile condenses a tool's interactions into a profile. With a
// nil provider (structural mode) notes are templated from interaction
// statistics instead.
func SynthesizeProfile(ctx context.Context, provider llms.Provider, tool string, interactions []Interaction) ToolProfile {
	profile := ToolProfile{
		Name:         tool,
		Interactions: interactions,
		TimingNotes:  timingNotes(interactions),
		Confidence:   confidence(interactions),
	}

	if provider == nil {
		notes := templateNotes(interactions)
		profile.BehavioralNotes = notes.BehavioralNotes
		profile.Limitations = notes.Limitations
		profile.SecurityNotes = notes.SecurityNotes
		return profile
	}

	text, err := provider.Chat(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: fmt.Sprintf(synthesisPromptTemplate, tool, interactionDigest(interactions))},
	}, &llms.Options{ResponseFormat: llms.FormatJSON})
	if err == nil {
		if notes, perr := llms.ParseJSON[synthesisNotes](text); perr == nil {
			profile.BehavioralNotes = notes.BehavioralNotes
			profile.Limitations = notes.Limitations
			profile.SecurityNotes = notes.SecurityNotes
			return profile
		}
	}

	slog.Debug("Profile synthesis fell back to templates", "tool", tool, "error", err)
	notes := templateNotes(interactions)
	profile.BehavioralNotes = notes.BehavioralNotes
	profile.Limitations = notes.Limitations
	profile.SecurityNotes = notes.SecurityNotes
	return profile
}

// confidence is the fraction of success-expected interactions whose outcome
// was assessed correct. Either-tagged samples do not participate.
func confidence(interactions []Interaction) float64 {
	total, correct := 0, 0
	for _, i := range interactions {
		if i.ExpectedOutcome != ExpectSuccess {
			continue
		}
		total++
		if i.Assessment.Correct {
			correct++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

func templateNotes(interactions []Interaction) synthesisNotes {
	var notes synthesisNotes

	succeeded, failed, toolErrors := 0, 0, 0
	securityFailures := 0

	for _, i := range interactions {
		switch {
		case i.Error != "":
			failed++
		case i.IsError:
			toolErrors++
		default:
			succeeded++
		}
		if i.Category == CategorySecurity && i.Succeeded() {
			securityFailures++
		}
	}

	notes.BehavioralNotes = append(notes.BehavioralNotes,
		fmt.Sprintf("%d of %d calls succeeded; %d returned tool errors; %d failed at the transport layer",
			succeeded, len(interactions), toolErrors, failed))
	if failed > 0 {
		notes.Limitations = append(notes.Limitations,
			fmt.Sprintf("%d calls failed before reaching the tool", failed))
	}
	if securityFailures > 0 {
		notes.SecurityNotes = append(notes.SecurityNotes,
			fmt.Sprintf("%d security probes were accepted instead of rejected", securityFailures))
	}
	return notes
}

// timingNotes summarize observed latencies. Timing never feeds the sealed
// note sets, so identical discovery keeps an identical baseline hash.
func timingNotes(interactions []Interaction) []string {
	if len(interactions) == 0 {
		return nil
	}
	var minLatency, maxLatency int64 = -1, 0
	for _, i := range interactions {
		if minLatency < 0 || i.LatencyMs < minLatency {
			minLatency = i.LatencyMs
		}
		if i.LatencyMs > maxLatency {
			maxLatency = i.LatencyMs
		}
	}
	return []string{fmt.Sprintf("observed latency %d-%dms", minLatency, maxLatency)}
}

func interactionDigest(interactions []Interaction) string {
	var b strings.Builder
	for i, it := range interactions {
		outcome := "success"
		if it.Error != "" {
			outcome = "error: " + truncateForPrompt(it.Error, 200)
		} else if it.IsError {
			raw, _ := json.Marshal(it.Response)
			outcome = "tool error: " + truncateForPrompt(string(raw), 200)
		}
		fmt.Fprintf(&b, "%d. %q [%s, expected %s] -> %s (correct=%t)\n",
			i+1, it.Question, it.Category, it.ExpectedOutcome, outcome, it.Assessment.Correct)
	}
	return b.String()
}

const summaryPromptTemplate = `You audited an MCP server. Write a 3-5 sentence summary of its overall behavior for a baseline report.

Server: %s
Tools and confidence:
%s`

// SynthesizeSummary produces the overall interview summary.
func SynthesizeSummary(ctx context.Context, provider llms.Provider, server string, profiles []ToolProfile) string {
	var digest strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&digest, "- %s: confidence %.2f, %d interactions\n",
			p.Name, p.Confidence, len(p.Interactions))
	}

	if provider == nil {
		return fmt.Sprintf("Structural audit of %s covering %d tools.", server, len(profiles))
	}

	text, err := provider.Chat(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: fmt.Sprintf(summaryPromptTemplate, server, digest.String())},
	}, nil)
	if err != nil {
		return fmt.Sprintf("Audit of %s covering %d tools.", server, len(profiles))
	}
	return strings.TrimSpace(text)
}
