// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gomcp/streamtransport/jsonrpc"
)

func TestStreamableClientTransport_RoundTripAgainstServer(t *testing.T) {
	h := NewStreamableHTTPHandler(func(*http.Request) Engine { return echoEngine() })
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := NewStreamableClientTransport(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := tr.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Write(ctx, &jsonrpc.Request{ID: jsonrpc.Int64ID(1), Method: "ping"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok || resp.ID != jsonrpc.Int64ID(1) {
		t.Fatalf("Read() = %#v, want response to id 1", msg)
	}
	if conn.SessionID() == "" {
		t.Fatalf("SessionID empty after successful exchange")
	}
}

func TestStreamableClientConn_SetProtocolVersionAddsHeader(t *testing.T) {
	tr := NewStreamableClientTransport("http://example.invalid/mcp", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := tr.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	sc := conn.(*streamableClientConn)

	before := httptest.NewRequest(http.MethodPost, "http://example.invalid/mcp", nil)
	sc.applyHeaders(before)
	if got := before.Header.Get("MCP-Protocol-Version"); got != "" {
		t.Fatalf("MCP-Protocol-Version = %q before SetProtocolVersion, want empty", got)
	}

	setter, ok := conn.(ProtocolVersionSetter)
	if !ok {
		t.Fatalf("streamableClientConn does not implement ProtocolVersionSetter")
	}
	setter.SetProtocolVersion("2025-06-18")

	after := httptest.NewRequest(http.MethodPost, "http://example.invalid/mcp", nil)
	sc.applyHeaders(after)
	if got := after.Header.Get("MCP-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("MCP-Protocol-Version = %q after SetProtocolVersion, want 2025-06-18", got)
	}
}

func TestStreamableClientTransport_IsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{&HTTPStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{&HTTPStatusError{StatusCode: http.StatusBadRequest}, false},
		{&HTTPStatusError{StatusCode: http.StatusNotFound}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
