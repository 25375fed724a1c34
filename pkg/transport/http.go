package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/httpclient"
	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
)

const (
	headerProtocolVersion = "MCP-Protocol-Version"
	headerSessionID       = "Mcp-Session-Id"
)

// ProtocolVersionSetter is implemented by HTTP-family drivers; the MCP client
// calls it once version negotiation completes so later requests carry the
// negotiated MCP-Protocol-Version header.
type ProtocolVersionSetter interface {
	SetProtocolVersion(version string)
}

// httpDriver turns every outbound message into a POST. Responses arrive
// either as a plain JSON body or as an SSE stream; both are decoded and
// delivered through the Messages channel.
type httpDriver struct {
	cfg    Config
	client *httpclient.Client

	messages chan *jsonrpc.Message
	errs     chan *Error

	mu              sync.RWMutex
	sessionID       string
	sessionSeen     bool
	protocolVersion string
	postURL         string
	onEndpoint      func()

	closeOnce sync.Once
	closed    chan struct{}
	streams   sync.WaitGroup
}

func newHTTPDriver(cfg Config) *httpDriver {
	return &httpDriver{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 0}),
			httpclient.WithMaxRetries(0),
		),
		messages: make(chan *jsonrpc.Message, 32),
		errs:     make(chan *Error, 8),
		closed:   make(chan struct{}),
		postURL:  cfg.URL,
	}
}

func (d *httpDriver) Connect(ctx context.Context) error {
	return nil
}

func (d *httpDriver) SetProtocolVersion(version string) {
	d.mu.Lock()
	d.protocolVersion = version
	d.mu.Unlock()
}

func (d *httpDriver) Messages() <-chan *jsonrpc.Message {
	return d.messages
}

func (d *httpDriver) Errors() <-chan *Error {
	return d.errs
}

func (d *httpDriver) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.streams.Wait()
		close(d.messages)
	})
	return nil
}

func (d *httpDriver) Send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	d.mu.RLock()
	url := d.postURL
	sessionID := d.sessionID
	protocolVersion := d.protocolVersion
	d.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if protocolVersion != "" {
		req.Header.Set(headerProtocolVersion, protocolVersion)
	}
	if sessionID != "" {
		req.Header.Set(headerSessionID, sessionID)
	}
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyNetError(err)
	}

	if newSession := resp.Header.Get(headerSessionID); newSession != "" {
		d.mu.Lock()
		d.sessionID = newSession
		d.sessionSeen = true
		d.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return newError(CategoryAuthFailed,
			fmt.Sprintf("server rejected request with HTTP %d", resp.StatusCode), false, nil)

	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		d.mu.Lock()
		hadSession := d.sessionSeen
		d.sessionID = ""
		d.mu.Unlock()
		if hadSession {
			return newError(CategoryProtocolViolation, "session expired (HTTP 404)", false, nil)
		}
		return newError(CategoryConnectionRefused, "endpoint not found (HTTP 404)", false, nil)

	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return nil

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return newError(CategoryUnknown,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), false, nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		d.streams.Add(1)
		go func() {
			defer d.streams.Done()
			d.readSSE(resp.Body)
		}()
		return nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(CategoryUnknown, "read response body", false, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	decoded, err := jsonrpc.Decode(body)
	if err != nil {
		return newError(CategoryProtocolViolation,
			"server returned a non-JSON-RPC body", true, err)
	}
	d.deliver(decoded)
	return nil
}

func (d *httpDriver) deliver(msg *jsonrpc.Message) {
	select {
	case d.messages <- msg:
	case <-d.closed:
	}
}

func (d *httpDriver) emitError(err *Error) {
	select {
	case d.errs <- err:
	default:
		slog.Debug("Dropping transport error, channel full", "error", err)
	}
}

// readSSE decodes data frames from an SSE body until it ends. Every read is
// bounded by the configured read timeout via a watchdog that closes the body.
func (d *httpDriver) readSSE(body io.ReadCloser) {
	defer body.Close()

	timedOut := false
	watchdog := time.AfterFunc(d.cfg.ReadTimeout, func() {
		timedOut = true
		body.Close()
	})
	defer watchdog.Stop()

	go func() {
		<-d.closed
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event, data strings.Builder
	flush := func() {
		defer func() {
			event.Reset()
			data.Reset()
		}()
		if data.Len() == 0 {
			return
		}
		if event.String() == "endpoint" {
			d.setPostURL(strings.TrimSpace(data.String()))
			return
		}
		msg, err := jsonrpc.Decode([]byte(data.String()))
		if err != nil {
			d.emitError(newError(CategoryProtocolViolation,
				"SSE data frame is not valid JSON-RPC", true, err))
			return
		}
		d.deliver(msg)
	}

	for scanner.Scan() {
		watchdog.Reset(d.cfg.ReadTimeout)
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			// Multi-line data fields join with a newline between lines.
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()

	if timedOut {
		d.emitError(newError(CategoryTimeout,
			fmt.Sprintf("no SSE data within %v", d.cfg.ReadTimeout), false, nil))
	}
}

func (d *httpDriver) setPostURL(endpoint string) {
	url := endpoint
	if strings.HasPrefix(endpoint, "/") {
		if idx := strings.Index(d.cfg.URL, "://"); idx >= 0 {
			if slash := strings.Index(d.cfg.URL[idx+3:], "/"); slash >= 0 {
				url = d.cfg.URL[:idx+3+slash] + endpoint
			} else {
				url = d.cfg.URL + endpoint
			}
		}
	}
	d.mu.Lock()
	d.postURL = url
	hook := d.onEndpoint
	d.mu.Unlock()
	slog.Debug("SSE endpoint announced", "url", url)
	if hook != nil {
		hook()
	}
}

func classifyNetError(err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return newError(CategoryConnectionRefused, "connection refused", false, err)
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return newError(CategoryTimeout, "request timed out", false, err)
	default:
		return newError(CategoryUnknown, "request failed", false, err)
	}
}
