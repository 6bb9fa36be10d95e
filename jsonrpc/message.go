// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc defines the JSON-RPC 2.0 message types exchanged by the
// transports in [github.com/gomcp/streamtransport/mcp], and the codec used
// to move them to and from the wire.
package jsonrpc

import (
	"fmt"
	"strconv"

	"github.com/segmentio/encoding/json"
)

// Version is the "jsonrpc" field value required on every message.
const Version = "2.0"

// An ID identifies a request, and correlates it with its response.
//
// Per the JSON-RPC 2.0 spec, an ID is either a string or a number; this
// implementation represents numeric IDs as int64. The zero ID is invalid
// (see [ID.IsValid]), which is how a [Request] represents a notification.
//
// ID is comparable, so it can be used directly as a map key.
type ID struct {
	value any // nil, string, or int64
}

// StringID returns an ID holding the string s.
func StringID(s string) ID { return ID{value: s} }

// Int64ID returns an ID holding the integer i.
func Int64ID(i int64) ID { return ID{value: i} }

// IsValid reports whether id carries a value, i.e. whether the message it
// belongs to is a request (as opposed to a notification) or a response.
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying value: nil, a string, or an int64.
func (id ID) Raw() any { return id.value }

// String renders id for logging and error messages. It is not the wire
// encoding; use [ID.MarshalJSON] for that.
func (id ID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return "<invalid>"
	}
}

// MarshalJSON implements [json.Marshaler].
func (id ID) MarshalJSON() ([]byte, error) {
	switch v := id.value.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return json.Marshal(v)
	case int64:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("jsonrpc: invalid ID value %#v", v)
	}
}

// UnmarshalJSON implements [json.Unmarshaler]. It accepts a JSON string, a
// JSON number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID{value: s}
		return nil
	}
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*id = ID{value: i}
		return nil
	}
	return fmt.Errorf("jsonrpc: invalid id %s: must be a string or integer", data)
}

// A Message is either a [Request] or a [Response]. It is a closed
// interface: callers outside this package cannot implement it, which keeps
// the wire format exhaustively handled by [EncodeMessage] and
// [DecodeMessage].
type Message interface {
	isJSONRPCMessage()
}

// A Request is a JSON-RPC request, or — when ID is invalid — a
// notification. This mirrors the wire format, where the only difference
// between the two is the presence of "id".
type Request struct {
	ID     ID              `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Request) isJSONRPCMessage() {}

// IsNotification reports whether r is a notification (has no ID).
func (r *Request) IsNotification() bool { return !r.ID.IsValid() }

// A Response carries either a Result or an Error, never both.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

func (*Response) isJSONRPCMessage() {}

// A WireError is the "error" member of a [Response].
type WireError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard and MCP-specific JSON-RPC error codes.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603

	// CodeSessionNotFound is non-standard, matching the code used by peer
	// MCP SDKs for "no such session."
	CodeSessionNotFound int64 = -32001
)

// NewResponse builds a successful [Response] by marshaling result.
func NewResponse(id ID, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshaling result: %w", err)
	}
	return &Response{ID: id, Result: data}, nil
}

// NewErrorResponse builds a [Response] carrying a [WireError].
func NewErrorResponse(id ID, code int64, message string) *Response {
	return &Response{ID: id, Error: &WireError{Code: code, Message: message}}
}
