package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
)

// streamDriver serves both sse and streamable-http: outbound messages go
// through the POST path of httpDriver while a long-lived GET delivers
// server-initiated messages. An optional preflight GET (default on) surfaces
// 401/403 as a terminal auth failure immediately rather than as a request
// timeout later.
type streamDriver struct {
	*httpDriver

	kind     Kind
	endpoint chan struct{}
	listen   sync.Once
}

func newStreamDriver(cfg Config) *streamDriver {
	d := &streamDriver{
		httpDriver: newHTTPDriver(cfg),
		kind:       cfg.Kind,
		endpoint:   make(chan struct{}, 1),
	}
	d.onEndpoint = d.setEndpointReady
	return d
}

func (d *streamDriver) Connect(ctx context.Context) error {
	if d.cfg.preflightEnabled() {
		if err := d.preflight(ctx); err != nil {
			return err
		}
	}

	if d.kind == KindSSE {
		d.listen.Do(func() { go d.listenLoop() })

		// The server announces the POST endpoint on the stream; wait for it
		// so initialize does not race the announcement.
		select {
		case <-d.endpoint:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closed:
			return fmt.Errorf("transport closed during connect")
		}
	}

	return nil
}

func (d *streamDriver) Send(ctx context.Context, msg *jsonrpc.Message) error {
	err := d.httpDriver.Send(ctx, msg)
	if err == nil && d.kind == KindStreamableHTTP {
		d.mu.RLock()
		haveSession := d.sessionSeen
		d.mu.RUnlock()
		if haveSession {
			d.listen.Do(func() { go d.listenLoop() })
		}
	}
	return err
}

func (d *streamDriver) preflight(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build preflight request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyNetError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return newError(CategoryAuthFailed,
			fmt.Sprintf("preflight rejected with HTTP %d", resp.StatusCode), false, nil)
	}
	return nil
}

// listenLoop holds the long-lived GET open and feeds decoded events into the
// shared message channel. The endpoint event (classic SSE) is intercepted by
// the base driver's SSE reader; we additionally signal connect completion.
func (d *streamDriver) listenLoop() {
	req, err := http.NewRequest(http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		d.emitError(newError(CategoryUnknown, "build stream request", false, err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	d.mu.RLock()
	if d.sessionID != "" {
		req.Header.Set(headerSessionID, d.sessionID)
	}
	if d.protocolVersion != "" {
		req.Header.Set(headerProtocolVersion, d.protocolVersion)
	}
	d.mu.RUnlock()
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.emitError(classifyNetError(err))
		return
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		d.emitError(newError(CategoryAuthFailed,
			fmt.Sprintf("stream rejected with HTTP %d", resp.StatusCode), false, nil))
		return
	case http.StatusMethodNotAllowed:
		// Streamable servers may not support the listening GET at all.
		resp.Body.Close()
		slog.Debug("Server does not support listening GET", "url", d.cfg.URL)
		return
	}

	d.readSSE(resp.Body)
}

func (d *streamDriver) setEndpointReady() {
	select {
	case d.endpoint <- struct{}{}:
	default:
	}
}
