package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
)

func newTestHTTPDriver(t *testing.T, url string, headers map[string]string) *httpDriver {
	t.Helper()
	d := newHTTPDriver(Config{
		Kind:        KindHTTP,
		URL:         url,
		Headers:     headers,
		ReadTimeout: 5 * time.Second,
	})
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { d.Close() })
	return d
}

func request(t *testing.T, id int64, method string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewRequest(id, method, map[string]any{})
	require.NoError(t, err)
	return msg
}

func receive(t *testing.T, d Driver) *jsonrpc.Message {
	t.Helper()
	select {
	case msg := <-d.Messages():
		require.NotNil(t, msg)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"stdio", KindStdio, false},
		{"http", KindHTTP, false},
		{"sse", KindSSE, false},
		{"streamable-http", KindStreamableHTTP, false},
		{"", KindStdio, false},
		{"websocket", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNew_RequiredFields(t *testing.T) {
	_, err := New(Config{Kind: KindStdio})
	assert.Error(t, err, "stdio needs a command")

	_, err = New(Config{Kind: KindHTTP})
	assert.Error(t, err, "http needs a url")

	_, err = New(Config{Kind: "telepathy"})
	assert.Error(t, err)
}

func TestHTTPDriver_JSONResponse(t *testing.T) {
	var mu sync.Mutex
	var gotHeaders http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotHeaders = r.Header.Clone()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, map[string]string{"Authorization": "Bearer abc"})
	d.SetProtocolVersion("2025-06-18")

	require.NoError(t, d.Send(context.Background(), request(t, 1, "ping")))

	msg := receive(t, d)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(1), *msg.ID)
	assert.JSONEq(t, `{"ok":true}`, string(msg.Result))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "Bearer abc", gotHeaders.Get("Authorization"))
	assert.Equal(t, "2025-06-18", gotHeaders.Get("MCP-Protocol-Version"))
}

func TestHTTPDriver_SessionHeaderRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var sessions []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sessions = append(sessions, r.Header.Get("Mcp-Session-Id"))
		mu.Unlock()
		w.Header().Set("Mcp-Session-Id", "session-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)

	require.NoError(t, d.Send(context.Background(), request(t, 1, "initialize")))
	require.NoError(t, d.Send(context.Background(), request(t, 2, "tools/list")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sessions, 2)
	assert.Empty(t, sessions[0], "no session before the server assigns one")
	assert.Equal(t, "session-123", sessions[1], "assigned session rides every later request")
}

func TestHTTPDriver_SSEResponseBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)
	require.NoError(t, d.Send(context.Background(), request(t, 1, "tools/call")))

	first := receive(t, d)
	assert.Equal(t, "notifications/progress", first.Method)

	second := receive(t, d)
	require.NotNil(t, second.ID)
	assert.Equal(t, int64(1), *second.ID)
}

func TestHTTPDriver_SSEMultiLineData(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// A frame split between JSON tokens stays valid when the lines are
		// rejoined with a newline.
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":11,\ndata: \"result\":{\"ok\":true}}\n\n")
		// A frame split inside a number token must not silently concatenate
		// into a different value; the newline keeps the corruption visible.
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":12,\"result\":{\"count\": 1\ndata: 2}}\n\n")
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)
	require.NoError(t, d.Send(context.Background(), request(t, 11, "tools/call")))

	msg := receive(t, d)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(11), *msg.ID)
	assert.JSONEq(t, `{"ok":true}`, string(msg.Result))

	select {
	case err := <-d.Errors():
		require.NotNil(t, err)
		assert.Equal(t, CategoryProtocolViolation, err.Category)
	case <-time.After(2 * time.Second):
		t.Fatal("no protocol error for the mid-token split")
	}

	select {
	case msg := <-d.Messages():
		t.Fatalf("mid-token split delivered as a message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHTTPDriver_AuthFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)
	err := d.Send(context.Background(), request(t, 1, "initialize"))

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CategoryAuthFailed, terr.Category)
}

func TestHTTPDriver_NotFoundDependsOnSessionHistory(t *testing.T) {
	var mu sync.Mutex
	assignSession := true
	status := http.StatusAccepted
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if assignSession {
			w.Header().Set("Mcp-Session-Id", "s1")
		}
		w.WriteHeader(status)
	}))
	defer ts.Close()

	t.Run("404 without prior session is endpoint-not-found", func(t *testing.T) {
		d := newTestHTTPDriver(t, ts.URL, nil)
		mu.Lock()
		assignSession, status = false, http.StatusNotFound
		mu.Unlock()

		err := d.Send(context.Background(), request(t, 1, "initialize"))
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CategoryConnectionRefused, terr.Category)
	})

	t.Run("404 after a session means the session expired", func(t *testing.T) {
		d := newTestHTTPDriver(t, ts.URL, nil)
		mu.Lock()
		assignSession, status = true, http.StatusAccepted
		mu.Unlock()
		require.NoError(t, d.Send(context.Background(), request(t, 1, "initialize")))

		mu.Lock()
		status = http.StatusNotFound
		mu.Unlock()
		err := d.Send(context.Background(), request(t, 2, "tools/list"))

		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CategoryProtocolViolation, terr.Category)
		assert.Contains(t, terr.Message, "session expired")
	})
}

func TestHTTPDriver_NonJSONBodyIsServerBug(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>oops</html>")
	}))
	defer ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)
	err := d.Send(context.Background(), request(t, 1, "ping"))

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CategoryProtocolViolation, terr.Category)
	assert.True(t, terr.LikelyServerBug)
}

func TestHTTPDriver_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	d := newTestHTTPDriver(t, ts.URL, nil)
	err := d.Send(context.Background(), request(t, 1, "ping"))

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CategoryConnectionRefused, terr.Category)
}

func TestTransportError_Surface(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := newError(CategoryConnectionRefused, "connection refused", false, cause)

	assert.Contains(t, e.Error(), "connection refused")
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "TRANSPORT_CONNECTION_REFUSED", string(e.Code()))
}
