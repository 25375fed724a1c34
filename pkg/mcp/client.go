package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
	"github.com/bellwetherhq/bellwether/pkg/transport"
)

const (
	methodNotFoundCode    = -32601
	defaultRequestTimeout = 60 * time.Second
)

// Client is the MCP protocol layer on top of the JSON-RPC multiplexer.
// Every protocol method except Initialize fails with a typed
// PROTOCOL_NOT_INITIALIZED error until the handshake completes.
type Client struct {
	driver     transport.Driver
	mux        *jsonrpc.Mux
	timeout    time.Duration
	clientInfo Implementation

	mu              sync.RWMutex
	ready           bool
	closed          bool
	serverInfo      Implementation
	capabilities    ServerCapabilities
	protocolVersion string
	instructions    string
	features        FeatureFlags
	lastTransport   *transport.Error

	pumpDone chan struct{}
}

type Option func(*Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithClientInfo(info Implementation) Option {
	return func(c *Client) {
		c.clientInfo = info
	}
}

func NewClient(driver transport.Driver, opts ...Option) *Client {
	c := &Client{
		driver:     driver,
		timeout:    defaultRequestTimeout,
		clientInfo: Implementation{Name: "bellwether", Version: "0.1.0"},
		pumpDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mux = jsonrpc.NewMux(driver)
	return c
}

// SetNotificationHandler registers a sink for server notifications.
func (c *Client) SetNotificationHandler(h func(method string, params json.RawMessage)) {
	c.mux.SetNotificationHandler(func(msg *jsonrpc.Message) {
		h(msg.Method, msg.Params)
	})
}

// Connect establishes the transport and starts the receive loops.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.driver.Connect(ctx); err != nil {
		return err
	}

	go func() {
		defer close(c.pumpDone)
		for msg := range c.driver.Messages() {
			c.mux.HandleMessage(msg)
		}
	}()

	go func() {
		for terr := range c.driver.Errors() {
			c.mu.Lock()
			c.lastTransport = terr
			c.mu.Unlock()

			switch terr.Category {
			case transport.CategoryServerExit, transport.CategoryAuthFailed:
				c.mux.Fail(terr.Audit("receive"))
			default:
				slog.Debug("Non-terminal transport error", "category", terr.Category, "error", terr)
			}
		}
	}()

	return nil
}

// Initialize performs the handshake, adopts the server's offered protocol
// version, and sends notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*Implementation, error) {
	params := initializeParams{
		ProtocolVersion: SupportedVersions[0],
		Capabilities:    clientCapabilities{},
		ClientInfo:      c.clientInfo,
	}

	raw, err := c.mux.Request(ctx, MethodInitialize, params, c.timeout)
	if err != nil {
		return nil, err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeProtocolInvalidResponse,
			"malformed initialize result", err,
			errdefs.WithComponent("mcp", MethodInitialize))
	}
	if result.ProtocolVersion == "" {
		return nil, errdefs.New(errdefs.CodeProtocolInvalidResponse,
			"server offered no protocol version",
			errdefs.WithComponent("mcp", MethodInitialize))
	}

	if setter, ok := c.driver.(transport.ProtocolVersionSetter); ok {
		setter.SetProtocolVersion(result.ProtocolVersion)
	}

	if err := c.mux.Notify(ctx, MethodNotificationsInit, struct{}{}); err != nil {
		return nil, fmt.Errorf("send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.ready = true
	c.serverInfo = result.ServerInfo
	c.capabilities = result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	c.instructions = result.Instructions
	c.features = featuresForVersion(result.ProtocolVersion)
	c.mu.Unlock()

	slog.Info("Initialized MCP session",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)

	return &result.ServerInfo, nil
}

// Ready reports whether the handshake has completed.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Client) ServerInfo() Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

func (c *Client) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

func (c *Client) Features() FeatureFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.features
}

// LastTransportError returns the most recent transport-level failure.
func (c *Client) LastTransportError() *transport.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTransport
}

func (c *Client) requireReady(operation string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return errdefs.New(errdefs.CodeProtocolNotInitialized,
			operation+" called before initialize completed",
			errdefs.WithComponent("mcp", operation))
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if err := c.requireReady(method); err != nil {
		return err
	}

	raw, err := c.mux.Request(ctx, method, params, c.timeout)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == methodNotFoundCode {
			return errdefs.Wrap(errdefs.CodeProtocolUnknownMethod,
				"server does not implement "+method, err,
				errdefs.WithComponent("mcp", method))
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errdefs.Wrap(errdefs.CodeProtocolInvalidResponse,
			"malformed "+method+" result", err,
			errdefs.WithComponent("mcp", method))
	}
	return nil
}

// ListTools fetches all tools, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listToolsResult
		if err := c.call(ctx, MethodToolsList, params, &page); err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listPromptsResult
		if err := c.call(ctx, MethodPromptsList, params, &page); err != nil {
			return nil, err
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listResourcesResult
		if err := c.call(ctx, MethodResourcesList, params, &page); err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. IsError=true results come back without a Go
// error; the caller decides how to treat tool-reported failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	var result CallToolResult
	if err := c.call(ctx, MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	var result GetPromptResult
	if err := c.call(ctx, MethodPromptsGet, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.call(ctx, MethodResourcesRead, map[string]any{"uri": uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, struct{}{}, nil)
}

// Discover lists every capability the server advertises and returns the
// immutable discovery result.
func (c *Client) Discover(ctx context.Context) (*Discovery, error) {
	if err := c.requireReady("discover"); err != nil {
		return nil, err
	}

	c.mu.RLock()
	caps := c.capabilities
	disc := &Discovery{
		ServerInfo:      c.serverInfo,
		ProtocolVersion: c.protocolVersion,
		Capabilities:    caps.Names(),
		Instructions:    c.instructions,
		Timestamp:       time.Now().UTC(),
	}
	c.mu.RUnlock()

	if caps.Tools != nil {
		tools, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		disc.Tools = tools
	}
	if caps.Prompts != nil {
		prompts, err := c.ListPrompts(ctx)
		if err != nil {
			slog.Warn("Prompt discovery failed", "error", err)
		} else {
			disc.Prompts = prompts
		}
	}
	if caps.Resources != nil {
		resources, err := c.ListResources(ctx)
		if err != nil {
			slog.Warn("Resource discovery failed", "error", err)
		} else {
			disc.Resources = resources
		}
	}

	return disc, nil
}

// Close tears down the session. Pending requests resolve with a
// cancellation error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	c.mu.Unlock()

	c.mux.Fail(errdefs.New(errdefs.CodeCancelled, "session closed",
		errdefs.WithComponent("mcp", "close")))
	return c.driver.Close()
}
