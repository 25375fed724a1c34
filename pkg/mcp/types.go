// Package mcp implements the Model Context Protocol client used for
// capability discovery and tool interviews.
package mcp

import (
	"encoding/json"
	"time"
)

const (
	MethodInitialize            = "initialize"
	MethodNotificationsInit     = "notifications/initialized"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodPromptsList           = "prompts/list"
	MethodPromptsGet            = "prompts/get"
	MethodResourcesList         = "resources/list"
	MethodResourcesRead         = "resources/read"
	MethodPing                  = "ping"
	MethodNotificationCancelled = "notifications/cancelled"
)

// SupportedVersions are the protocol revisions this client understands,
// newest first. The first entry is offered during initialize.
var SupportedVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

type clientCapabilities struct {
	Roots    map[string]any `json:"roots,omitempty"`
	Sampling map[string]any `json:"sampling,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Logging   map[string]any         `json:"logging,omitempty"`
}

type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// Names returns the sorted capability identifiers present on the server,
// the form stored in baselines.
func (c ServerCapabilities) Names() []string {
	var names []string
	if c.Tools != nil {
		names = append(names, "tools")
	}
	if c.Prompts != nil {
		names = append(names, "prompts")
	}
	if c.Resources != nil {
		names = append(names, "resources")
	}
	if c.Logging != nil {
		names = append(names, "logging")
	}
	return names
}

// Tool is a discovered tool. The input schema is kept opaque; the baseline
// canonicalizer, not this package, decides how to interpret it.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallToolResult is the structured outcome of tools/call. IsError=true is a
// non-exceptional outcome: the tool ran and reported failure.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Text concatenates the text parts of the result content.
func (r *CallToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

type listToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type listPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type listResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// Discovery is the immutable result of capability discovery.
type Discovery struct {
	ServerInfo      Implementation `json:"serverInfo"`
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    []string       `json:"capabilities"`
	Instructions    string         `json:"instructions,omitempty"`
	Tools           []Tool         `json:"tools"`
	Prompts         []Prompt       `json:"prompts"`
	Resources       []Resource     `json:"resources"`
	Timestamp       time.Time      `json:"timestamp"`
}
