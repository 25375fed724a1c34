package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bellwetherhq/bellwether/pkg/llms"
)

const analysisPromptTemplate = `A test call was made against an API tool. Judge whether the outcome matches the test's intent.

Test: %s
Category: %s
Expected outcome: %s
Arguments: %s
Outcome: %s

Respond with JSON only: {"correct": true|false, "reasoning": "one sentence"}`

// AnalyzeOutcome asks the LLM whether the call behaved as the question
// intended. LLM failures fall back to mechanical expected-vs-actual
// comparison so analysis never blocks an interview.
func AnalyzeOutcome(ctx context.Context, provider llms.Provider, interaction *Interaction) OutcomeAssessment {
	if provider == nil {
		return mechanicalAssessment(interaction)
	}

	args, _ := json.Marshal(interaction.Args)
	prompt := fmt.Sprintf(analysisPromptTemplate,
		interaction.Question,
		interaction.Category,
		interaction.ExpectedOutcome,
		truncateForPrompt(string(args), 2000),
		truncateForPrompt(outcomeDescription(interaction), 4000),
	)

	text, err := provider.Chat(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: prompt},
	}, &llms.Options{ResponseFormat: llms.FormatJSON})
	if err != nil {
		slog.Debug("Outcome analysis failed, using mechanical assessment",
			"tool", interaction.Tool, "error", err)
		return mechanicalAssessment(interaction)
	}

	assessment, err := llms.ParseJSON[OutcomeAssessment](text)
	if err != nil {
		return mechanicalAssessment(interaction)
	}
	return assessment
}

// mechanicalAssessment compares the observed outcome against the expected
// tag without model judgment.
func mechanicalAssessment(interaction *Interaction) OutcomeAssessment {
	succeeded := interaction.Succeeded()

	var correct bool
	switch interaction.ExpectedOutcome {
	case ExpectError:
		correct = !succeeded
	case ExpectEither:
		correct = true
	default:
		correct = succeeded
	}

	return OutcomeAssessment{
		Correct:   correct,
		Reasoning: fmt.Sprintf("expected %s, call %s", interaction.ExpectedOutcome, outcomeWord(succeeded)),
	}
}

func outcomeDescription(interaction *Interaction) string {
	if interaction.Error != "" {
		return "transport/protocol error: " + interaction.Error
	}
	raw, err := json.Marshal(interaction.Response)
	if err != nil {
		return "unencodable response"
	}
	if interaction.IsError {
		return "tool reported an error: " + string(raw)
	}
	return "tool succeeded: " + string(raw)
}

func outcomeWord(succeeded bool) string {
	if succeeded {
		return "succeeded"
	}
	return "failed"
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(truncated)"
}
