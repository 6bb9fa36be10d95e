// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/gomcp/streamtransport/internal/strictjson"
)

// wireMessage is the on-the-wire shape of both requests and responses. A
// message is discriminated by which of Method / (Result or Error) is
// present, per the JSON-RPC 2.0 spec: requests and notifications carry
// "method", responses carry "result" or "error".
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// EncodeMessage encodes msg as a single JSON-RPC 2.0 wire message.
func EncodeMessage(msg Message) ([]byte, error) {
	w, err := toWireMessage(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// ToWire returns the JSON-encodable wire representation of msg, without
// marshaling it. Callers that already own a JSON encoder (such as
// [github.com/gomcp/streamtransport/internal/sse.Writer]) use this to
// encode messages through that encoder, instead of allocating a fresh
// buffer per message via [EncodeMessage].
func ToWire(msg Message) (any, error) {
	return toWireMessage(msg)
}

func toWireMessage(msg Message) (wireMessage, error) {
	var w wireMessage
	w.JSONRPC = Version
	switch m := msg.(type) {
	case *Request:
		w.Method = m.Method
		w.Params = m.Params
		if m.ID.IsValid() {
			id := m.ID
			w.ID = &id
		}
	case *Response:
		id := m.ID
		w.ID = &id
		w.Result = m.Result
		w.Error = m.Error
	default:
		return wireMessage{}, fmt.Errorf("jsonrpc: unencodable message type %T", msg)
	}
	return w, nil
}

// DecodeMessage decodes a single JSON-RPC 2.0 wire message.
//
// Decoding is strict: unknown fields and case-variant field names are
// rejected, to prevent message-smuggling attacks that rely on Go's
// case-insensitive JSON unmarshaling (see [strictjson.Unmarshal]).
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := strictjson.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("jsonrpc: decoding message: %w", err)
	}
	if w.JSONRPC != Version {
		return nil, fmt.Errorf("jsonrpc: unsupported version %q", w.JSONRPC)
	}
	switch {
	case w.Method != "":
		r := &Request{Method: w.Method, Params: w.Params}
		if w.ID != nil {
			r.ID = *w.ID
		}
		return r, nil
	case w.Result != nil || w.Error != nil:
		// An error response may carry a null (or absent) id when the error
		// precedes identifying the request; it decodes with the zero ID.
		if w.ID == nil && w.Error == nil {
			return nil, fmt.Errorf("jsonrpc: response missing id")
		}
		r := &Response{Result: w.Result, Error: w.Error}
		if w.ID != nil {
			r.ID = *w.ID
		}
		return r, nil
	default:
		return nil, fmt.Errorf("jsonrpc: message has neither method nor result/error")
	}
}

// DecodeBatch decodes either a single message or a JSON array of messages.
// It peeks the first non-whitespace byte of data to tell the two apart
// without a preliminary full parse. isBatch reports which form was found,
// which callers need in order to pick the right HTTP response shape.
func DecodeBatch(data []byte) (msgs []Message, isBatch bool, err error) {
	i := 0
	for i < len(data) && isJSONSpace(data[i]) {
		i++
	}
	if i == len(data) {
		return nil, false, fmt.Errorf("jsonrpc: empty message")
	}
	if data[i] != '[' {
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, false, err
		}
		return []Message{msg}, false, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, true, fmt.Errorf("jsonrpc: decoding batch: %w", err)
	}
	msgs = make([]Message, len(raws))
	for i, raw := range raws {
		msg, err := DecodeMessage(raw)
		if err != nil {
			return nil, true, fmt.Errorf("jsonrpc: decoding batch element %d: %w", i, err)
		}
		msgs[i] = msg
	}
	return msgs, true, nil
}

func isJSONSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}
