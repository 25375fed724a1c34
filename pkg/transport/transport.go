// Package transport implements message-framed duplex channels to MCP servers
// over stdio, http, sse, and streamable-http. Drivers decode JSON-RPC frames
// but never interpret their semantics; that belongs to the jsonrpc and mcp
// layers above.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
)

type Kind string

const (
	KindStdio          Kind = "stdio"
	KindHTTP           Kind = "http"
	KindSSE            Kind = "sse"
	KindStreamableHTTP Kind = "streamable-http"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStdio, KindHTTP, KindSSE, KindStreamableHTTP:
		return Kind(s), nil
	case "":
		return KindStdio, nil
	default:
		return "", fmt.Errorf("unsupported transport: %s", s)
	}
}

// Driver is the common contract for all transports: connect, send, close,
// and two event channels. Messages carries inbound decoded frames; Errors
// carries transport-level failures. A terminal failure closes Messages.
type Driver interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *jsonrpc.Message) error
	Messages() <-chan *jsonrpc.Message
	Errors() <-chan *Error
	Close() error
}

type Config struct {
	Kind Kind

	// stdio
	Command string
	Args    []string
	Env     map[string]string

	// http family
	URL       string
	Headers   map[string]string
	Preflight *bool // default on for sse/streamable-http

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (c Config) preflightEnabled() bool {
	if c.Preflight == nil {
		return true
	}
	return *c.Preflight
}

// New constructs the driver for cfg.Kind.
func New(cfg Config) (Driver, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}

	switch cfg.Kind {
	case KindStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return newStdioDriver(cfg), nil
	case KindHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return newHTTPDriver(cfg), nil
	case KindSSE, KindStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%s transport requires a url", cfg.Kind)
		}
		return newStreamDriver(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Kind)
	}
}
