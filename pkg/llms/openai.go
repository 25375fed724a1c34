package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider drives OpenAI-compatible chat-completion APIs, which
// includes OpenAI itself and any server exposing the same surface.
type OpenAIProvider struct {
	cfg        ProviderConfig
	httpClient *httpclient.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model               string                `json:"model"`
	Messages            []openAIMessage       `json:"messages"`
	MaxTokens           *int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64              `json:"temperature,omitempty"`
	Stream              bool                  `json:"stream"`
	StreamOptions       map[string]any        `json:"stream_options,omitempty"`
	ResponseFormat      *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
		Refusal string `json:"refusal,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
}

func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) Info() Info {
	return Info{
		ID:                "openai",
		Name:              "OpenAI",
		DefaultModel:      p.cfg.Model,
		SupportsJSON:      true,
		SupportsStreaming: true,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	request := p.buildRequest(messages, opts, false)

	response, err := p.send(ctx, request)
	if err != nil {
		return "", err
	}

	if response.Error != nil {
		return "", classifyHTTPError("openai", "chat", 0, response.Error.Message,
			fmt.Errorf("api error: %s", response.Error.Message))
	}
	if len(response.Choices) == 0 {
		return "", classifyHTTPError("openai", "chat", 0, "", fmt.Errorf("no choices returned"))
	}

	choice := response.Choices[0]
	p.cfg.reportUsage(request.Model, Usage{
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	})

	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" ||
		detectRefusal(choice.Message.Content, p.cfg.RefusalPatterns) {
		return "", refusalError("openai", "chat")
	}

	return choice.Message.Content, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, opts *Options) (string, error) {
	return p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, opts, true)
	request.StreamOptions = map[string]any{"include_usage": true}

	resp, err := p.post(ctx, request)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chunk openAIStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}

		p.cfg.reportUsage(request.Model, usage)
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *OpenAIProvider) Close() error {
	return nil
}

// reasoningModel reports whether the model renames max_tokens and rejects
// temperature overrides.
func reasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (p *OpenAIProvider) buildRequest(messages []Message, opts *Options, stream bool) *openAIRequest {
	if opts == nil {
		opts = &Options{}
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	request := &openAIRequest{
		Model:  model,
		Stream: stream,
	}

	if opts.SystemPrompt != "" {
		request.Messages = append(request.Messages, openAIMessage{
			Role:    string(RoleSystem),
			Content: opts.SystemPrompt,
		})
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, openAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	if reasoningModel(model) {
		request.MaxCompletionTokens = &maxTokens
	} else {
		request.MaxTokens = &maxTokens
		if opts.Temperature != nil {
			request.Temperature = opts.Temperature
		} else {
			t := p.cfg.Temperature
			request.Temperature = &t
		}
	}

	if opts.ResponseFormat == FormatJSON {
		request.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	return request
}

func (p *OpenAIProvider) post(ctx context.Context, request *openAIRequest) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		statusCode := 0
		responseBody := ""
		if resp != nil {
			statusCode = resp.StatusCode
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			responseBody = string(raw)
		}
		if statusCode > 0 {
			return nil, classifyHTTPError("openai", "chat", statusCode, responseBody, err)
		}
		return nil, classifyTransportFailure("openai", "chat", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyHTTPError("openai", "chat", resp.StatusCode, string(raw), fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	return resp, nil
}

func (p *OpenAIProvider) send(ctx context.Context, request *openAIRequest) (*openAIResponse, error) {
	resp, err := p.post(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportFailure("openai", "chat", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, classifyHTTPError("openai", "chat", 0, string(raw),
			fmt.Errorf("decode response: %w", err))
	}
	return &response, nil
}
