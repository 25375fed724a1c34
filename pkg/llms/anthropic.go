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

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider drives the Anthropic messages API. The API requires
// strict user/assistant alternation; consecutive same-role messages are
// merged before sending.
type AnthropicProvider struct {
	cfg        ProviderConfig
	httpClient *httpclient.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}

	return &AnthropicProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Info() Info {
	return Info{
		ID:                "anthropic",
		Name:              "Anthropic",
		DefaultModel:      p.cfg.Model,
		SupportsJSON:      false,
		SupportsStreaming: true,
	}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	request := p.buildRequest(messages, opts, false)

	resp, err := p.post(ctx, request)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportFailure("anthropic", "chat", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", classifyHTTPError("anthropic", "chat", 0, string(raw),
			fmt.Errorf("decode response: %w", err))
	}
	if response.Error != nil {
		return "", classifyHTTPError("anthropic", "chat", 0, response.Error.Message,
			fmt.Errorf("api error: %s", response.Error.Message))
	}

	p.cfg.reportUsage(request.Model, Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	})

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if response.StopReason == "refusal" || detectRefusal(text.String(), p.cfg.RefusalPatterns) {
		return "", refusalError("anthropic", "chat")
	}

	return text.String(), nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, opts *Options) (string, error) {
	return p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, opts, true)

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

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta.Text != "" {
					select {
					case out <- StreamChunk{Text: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			case "message_stop":
			}
		}

		p.cfg.reportUsage(request.Model, usage)
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, opts *Options, stream bool) *anthropicRequest {
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

	request := &anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    opts.SystemPrompt,
		Stream:    stream,
	}

	if opts.Temperature != nil {
		request.Temperature = opts.Temperature
	} else {
		t := p.cfg.Temperature
		request.Temperature = &t
	}

	// Fold system-role history into the system prompt and merge consecutive
	// same-role turns to satisfy the alternation requirement.
	for _, m := range messages {
		if m.Role == RoleSystem {
			if request.System != "" {
				request.System += "\n\n"
			}
			request.System += m.Content
			continue
		}
		role := string(m.Role)
		if n := len(request.Messages); n > 0 && request.Messages[n-1].Role == role {
			request.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		request.Messages = append(request.Messages, anthropicMessage{Role: role, Content: m.Content})
	}

	if len(request.Messages) == 0 || request.Messages[0].Role != string(RoleUser) {
		request.Messages = append([]anthropicMessage{{Role: string(RoleUser), Content: "."}}, request.Messages...)
	}

	// The messages API has no JSON response mode; nudge via instruction.
	if opts.ResponseFormat == FormatJSON {
		if request.System != "" {
			request.System += "\n\n"
		}
		request.System += "Respond with a single valid JSON value and nothing else."
	}

	return request
}

func (p *AnthropicProvider) post(ctx context.Context, request *anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

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
			return nil, classifyHTTPError("anthropic", "chat", statusCode, responseBody, err)
		}
		return nil, classifyTransportFailure("anthropic", "chat", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyHTTPError("anthropic", "chat", resp.StatusCode, string(raw), fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	return resp, nil
}
