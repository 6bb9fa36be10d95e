// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// An Item is one entry in the stream a [Writer] serializes.
//
// Exactly one of Message or Endpoint is meaningful, selected by EventType:
// EventType "endpoint" carries a raw URL in Endpoint (not JSON — used once
// per legacy SSE GET, to bootstrap the client with its POST endpoint);
// any other EventType (including the zero value, which defaults to
// "message") carries a JSON-RPC message in Message.
type Item struct {
	EventType string
	ID        string
	Message   jsonrpc.Message
	Endpoint  []byte
}

// A Writer serializes a stream of [Item] values to a byte sink as SSE
// frames. It owns a single JSON encoder, reused (and reset) across items
// to avoid a per-message allocation.
//
// A Writer holds no lock of its own: callers that need to serialize
// concurrent producers must do so themselves, either by feeding a single
// channel into [Writer.Run] or by holding their own lock around
// [Writer.WriteOne], as the legacy SSE server transport does.
type Writer struct {
	sink io.Writer
	buf  bytes.Buffer
	enc  *json.Encoder
}

// NewWriter returns a Writer that frames items onto sink.
func NewWriter(sink io.Writer) *Writer {
	w := &Writer{sink: sink}
	w.enc = json.NewEncoder(&w.buf)
	return w
}

// Run drains items, writing one SSE frame per item, until items is closed
// or ctx is cancelled. It returns ctx.Err() on cancellation, nil on a
// clean channel close, or the first write error encountered (typically
// because the peer disconnected).
func (w *Writer) Run(ctx context.Context, items <-chan Item) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if err := w.writeItem(item); err != nil {
				return err
			}
		}
	}
}

// WriteOne writes a single item synchronously, bypassing the channel. It
// is used for one-off frames, such as the legacy transport's "endpoint"
// bootstrap event, that precede the channel-fed steady state.
func (w *Writer) WriteOne(item Item) error {
	return w.writeItem(item)
}

func (w *Writer) writeItem(item Item) error {
	name := item.EventType
	if name == "" {
		name = "message"
	}

	var data []byte
	if name == "endpoint" {
		data = item.Endpoint
	} else {
		wire, err := jsonrpc.ToWire(item.Message)
		if err != nil {
			return fmt.Errorf("sse: encoding message: %w", err)
		}
		w.buf.Reset()
		if err := w.enc.Encode(wire); err != nil {
			return fmt.Errorf("sse: encoding message: %w", err)
		}
		// The encoder appends a trailing newline; SSE data lines must not
		// contain one, and the buffer is about to be reused so the bytes
		// must be copied out.
		data = append([]byte(nil), bytes.TrimRight(w.buf.Bytes(), "\n")...)
	}

	_, err := WriteEvent(w.sink, Event{ID: item.ID, Name: name, Data: data})
	return err
}
