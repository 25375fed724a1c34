// Package jsonrpc implements the JSON-RPC 2.0 message model and a request
// multiplexer that correlates responses with in-flight requests.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Message is a decoded JSON-RPC 2.0 message. A request has Method and ID, a
// notification has Method only, and a response has ID plus Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// NewRequest builds a request message with marshaled params. Nil params are
// omitted from the wire form.
func NewRequest(id int64, method string, params any) (*Message, error) {
	msg := &Message{
		JSONRPC: Version,
		ID:      &id,
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

func NewNotification(method string, params any) (*Message, error) {
	msg := &Message{
		JSONRPC: Version,
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// Decode parses a single JSON-RPC message from raw bytes.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse jsonrpc message: %w", err)
	}
	return &msg, nil
}
