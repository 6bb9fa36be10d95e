// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gomcp/streamtransport/jsonrpc"
)

func TestEndpointURL_EncodesSessionID(t *testing.T) {
	got, err := endpointURL("abc def")
	if err != nil {
		t.Fatalf("endpointURL: %v", err)
	}
	if got != "message?sessionId=abc%20def" {
		t.Fatalf("endpointURL(%q) = %q", "abc def", got)
	}
}

func TestSSEServerTransport_WriteEndpointEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	tr := NewSSEServerTransport("sess-1", rec)
	if err := tr.WriteEndpointEvent(); err != nil {
		t.Fatalf("WriteEndpointEvent: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: endpoint") {
		t.Fatalf("body missing endpoint event: %q", body)
	}
	if !strings.Contains(body, "data: message?sessionId=sess-1") {
		t.Fatalf("body missing expected endpoint data: %q", body)
	}
}

func TestSSEServerTransport_ServeMessage_EnqueuesAndAccepts(t *testing.T) {
	tr := NewSSEServerTransport("sess-2", httptest.NewRecorder())
	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=sess-2", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	tr.ServeMessage(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case msg := <-tr.incoming:
		req := msg.(*jsonrpc.Request)
		if req.Method != "ping" {
			t.Fatalf("enqueued method = %q, want ping", req.Method)
		}
	default:
		t.Fatalf("message was not enqueued")
	}
}

func TestSSEServerTransport_WriteThenRead(t *testing.T) {
	rec := httptest.NewRecorder()
	tr := NewSSEServerTransport("sess-3", rec)

	msg := &jsonrpc.Request{Method: "notifications/hello"}
	if err := tr.Write(context.Background(), msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "notifications/hello") {
		t.Fatalf("written SSE body missing message: %q", rec.Body.String())
	}
}

func TestSSEServerTransport_CloseUnblocksReadAndWrite(t *testing.T) {
	tr := NewSSEServerTransport("sess-4", httptest.NewRecorder())
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Write(context.Background(), &jsonrpc.Request{Method: "x"}); err == nil {
		t.Fatalf("Write after Close did not error")
	}
	if _, err := tr.Read(context.Background()); err == nil {
		t.Fatalf("Read after Close did not error")
	}
}
