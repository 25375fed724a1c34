package jsonrpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// Conn is the outbound half of a transport: the mux only needs to send.
// Inbound messages are fed in through HandleMessage by whoever owns the
// transport's receive loop.
type Conn interface {
	Send(ctx context.Context, msg *Message) error
}

// NotificationHandler receives server notifications. It is invoked
// synchronously from the receive loop, so notifications observed before a
// response are always delivered before that response resolves its caller.
type NotificationHandler func(msg *Message)

type pendingRequest struct {
	method string
	ch     chan outcome
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Mux assigns monotonically increasing ids, tracks pending requests, and
// resolves each with exactly one outcome: response, timeout, transport
// failure, or cancellation.
type Mux struct {
	conn   Conn
	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pendingRequest
	failed   bool
	failErr  error
	onNotify NotificationHandler
}

func NewMux(conn Conn) *Mux {
	return &Mux{
		conn:    conn,
		pending: make(map[int64]*pendingRequest),
	}
}

func (m *Mux) SetNotificationHandler(h NotificationHandler) {
	m.mu.Lock()
	m.onNotify = h
	m.mu.Unlock()
}

// Request sends method+params and waits for the matching response, the
// timeout, a transport failure, or ctx cancellation, whichever comes first.
func (m *Mux) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := m.nextID.Add(1)

	msg, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{method: method, ch: make(chan outcome, 1)}

	m.mu.Lock()
	if m.failed {
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}
	m.pending[id] = req
	m.mu.Unlock()

	if err := m.conn.Send(ctx, msg); err != nil {
		m.remove(id)
		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-req.ch:
		return out.result, out.err
	case <-timer:
		m.remove(id)
		return nil, errdefs.New(errdefs.CodeTransportTimeout, method+" timed out",
			errdefs.WithComponent("jsonrpc", method),
			errdefs.WithTiming(timeout))
	case <-ctx.Done():
		m.remove(id)
		return nil, errdefs.Wrap(errdefs.CodeCancelled, method+" cancelled", ctx.Err(),
			errdefs.WithComponent("jsonrpc", method))
	}
}

// Notify sends a notification (no id, no response expected).
func (m *Mux) Notify(ctx context.Context, method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return m.conn.Send(ctx, msg)
}

// HandleMessage routes one inbound message. Responses for cancelled or
// unknown ids are dropped.
func (m *Mux) HandleMessage(msg *Message) {
	if msg.IsNotification() || msg.IsRequest() {
		m.mu.Lock()
		h := m.onNotify
		m.mu.Unlock()
		if h != nil {
			h(msg)
		}
		return
	}

	if msg.ID == nil {
		slog.Debug("Dropping jsonrpc message with no id and no method")
		return
	}

	m.mu.Lock()
	req, ok := m.pending[*msg.ID]
	if ok {
		delete(m.pending, *msg.ID)
	}
	m.mu.Unlock()

	if !ok {
		slog.Debug("Dropping response for unknown or cancelled request", "id", *msg.ID)
		return
	}

	if msg.Error != nil {
		req.ch <- outcome{err: msg.Error}
		return
	}
	req.ch <- outcome{result: msg.Result}
}

// Fail resolves every pending request with err and rejects future requests.
// Called when the underlying transport dies.
func (m *Mux) Fail(err error) {
	m.mu.Lock()
	if m.failed {
		m.mu.Unlock()
		return
	}
	m.failed = true
	m.failErr = err
	pending := m.pending
	m.pending = make(map[int64]*pendingRequest)
	m.mu.Unlock()

	for _, req := range pending {
		req.ch <- outcome{err: err}
	}
}

// PendingCount reports the number of outstanding requests.
func (m *Mux) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mux) remove(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
