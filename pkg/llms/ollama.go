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

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider drives a local Ollama endpoint. Responses stream as
// newline-delimited JSON rather than SSE.
type OllamaProvider struct {
	cfg        ProviderConfig
	httpClient *httpclient.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}

	return &OllamaProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
	}, nil
}

func (p *OllamaProvider) Info() Info {
	return Info{
		ID:                "ollama",
		Name:              "Ollama",
		DefaultModel:      p.cfg.Model,
		SupportsJSON:      true,
		SupportsStreaming: true,
	}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	request := p.buildRequest(messages, opts, false)

	resp, err := p.post(ctx, request)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportFailure("ollama", "chat", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", classifyHTTPError("ollama", "chat", 0, string(raw),
			fmt.Errorf("decode response: %w", err))
	}
	if response.Error != "" {
		return "", classifyHTTPError("ollama", "chat", 0, response.Error,
			fmt.Errorf("api error: %s", response.Error))
	}

	p.cfg.reportUsage(request.Model, Usage{
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
	})

	if detectRefusal(response.Message.Content, p.cfg.RefusalPatterns) {
		return "", refusalError("ollama", "chat")
	}

	return response.Message.Content, nil
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string, opts *Options) (string, error) {
	return p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (p *OllamaProvider) Stream(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
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
			var chunk ollamaResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				usage.InputTokens = chunk.PromptEvalCount
				usage.OutputTokens = chunk.EvalCount
				break
			}
		}

		p.cfg.reportUsage(request.Model, usage)
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) buildRequest(messages []Message, opts *Options, stream bool) *ollamaRequest {
	if opts == nil {
		opts = &Options{}
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	request := &ollamaRequest{
		Model:  model,
		Stream: stream,
	}

	if opts.SystemPrompt != "" {
		request.Messages = append(request.Messages, ollamaMessage{
			Role:    string(RoleSystem),
			Content: opts.SystemPrompt,
		})
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	} else if p.cfg.MaxTokens > 0 {
		options["num_predict"] = p.cfg.MaxTokens
	}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	} else {
		options["temperature"] = p.cfg.Temperature
	}
	request.Options = options

	if opts.ResponseFormat == FormatJSON {
		request.Format = "json"
	}

	return request
}

func (p *OllamaProvider) post(ctx context.Context, request *ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
			return nil, classifyHTTPError("ollama", "chat", statusCode, responseBody, err)
		}
		return nil, classifyTransportFailure("ollama", "chat", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyHTTPError("ollama", "chat", resp.StatusCode, string(raw), fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	return resp, nil
}
