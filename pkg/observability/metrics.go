// Package observability records audit metrics through OpenTelemetry
// instruments. The global meter provider stays a noop unless the embedding
// application installs one, so recording is always safe.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "bellwether"

// Metrics bundles the audit instruments.
type Metrics struct {
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.llmDuration, err = meter.Float64Histogram(
		"bellwether_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"bellwether_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	); err != nil {
		return nil, fmt.Errorf("create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"bellwether_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	); err != nil {
		return nil, fmt.Errorf("create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"bellwether_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, fmt.Errorf("create llm errors counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"bellwether_tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("create tool duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter(
		"bellwether_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"bellwether_tool_errors_total",
		metric.WithDescription("Total tool call errors"),
	); err != nil {
		return nil, fmt.Errorf("create tool errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordTokens(ctx context.Context, model string, input, output int) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmInputTokens.Add(ctx, int64(input), attrs)
	m.llmOutputTokens.Add(ctx, int64(output), attrs)
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, isError bool) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if isError {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}
