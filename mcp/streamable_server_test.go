// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gomcp/streamtransport/jsonrpc"
)

func TestStreamableServerTransport_EventIDRoundTrip(t *testing.T) {
	tests := []struct {
		id  streamID
		idx int
	}{
		{0, 0}, {1, 0}, {1, 41}, {9999, 7},
	}
	for _, tt := range tests {
		eid := formatEventID(tt.id, tt.idx)
		gotID, gotIdx, ok := parseEventID(eid)
		if !ok || gotID != tt.id || gotIdx != tt.idx {
			t.Fatalf("parseEventID(%q) = (%d, %d, %v), want (%d, %d, true)", eid, gotID, gotIdx, ok, tt.id, tt.idx)
		}
	}
}

func TestParseEventID_Malformed(t *testing.T) {
	for _, bad := range []string{"", "abc", "1", "1_", "_1", "-1_0", "1_-1"} {
		if _, _, ok := parseEventID(bad); ok {
			t.Fatalf("parseEventID(%q) succeeded, want failure", bad)
		}
	}
}

func TestStreamableServerTransport_HandlePost_NotificationOnlyReturns202(t *testing.T) {
	tr := NewStreamableServerTransport("sess-1")
	body := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	wrote := tr.HandlePost(rec, req)
	if wrote {
		t.Fatalf("HandlePost reported wroteResponse = true for a notification-only body")
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := rec.Header().Get("Mcp-Session-Id"); got != "sess-1" {
		t.Fatalf("Mcp-Session-Id = %q, want sess-1", got)
	}

	select {
	case msg := <-tr.incoming:
		req, ok := msg.(*jsonrpc.Request)
		if !ok || req.Method != "notifications/ping" {
			t.Fatalf("enqueued message = %#v, want ping notification", msg)
		}
	default:
		t.Fatalf("notification was not enqueued on incoming")
	}
}

func TestStreamableServerTransport_HandlePost_RequestStreamsResponse(t *testing.T) {
	tr := NewStreamableServerTransport("sess-2")

	go func() {
		msg := <-tr.incoming
		req := msg.(*jsonrpc.Request)
		resp, err := jsonrpc.NewResponse(req.ID, map[string]string{"ok": "true"})
		if err != nil {
			t.Errorf("NewResponse: %v", err)
			return
		}
		if err := tr.Write(context.Background(), resp); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()

	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	wrote := tr.HandlePost(rec, req)
	if !wrote {
		t.Fatalf("HandlePost reported wroteResponse = false for a real request")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	if !strings.Contains(rec.Body.String(), `"result"`) {
		t.Fatalf("response body missing result: %q", rec.Body.String())
	}
}

func TestStreamableServerTransport_HandlePost_EmptyBodyRejected(t *testing.T) {
	tr := NewStreamableServerTransport("sess-3")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	rec := httptest.NewRecorder()
	tr.HandlePost(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamableServerTransport_HandleGet_ResumesFromLastEventID(t *testing.T) {
	tr := NewStreamableServerTransport("sess-4")

	// Seed two events on the unsolicited stream before any GET connects,
	// as would happen if a server push raced a client reconnect.
	note1 := &jsonrpc.Request{Method: "notifications/a"}
	note2 := &jsonrpc.Request{Method: "notifications/b"}
	if err := tr.Write(context.Background(), note1); err != nil {
		t.Fatalf("Write note1: %v", err)
	}
	if err := tr.Write(context.Background(), note2); err != nil {
		t.Fatalf("Write note2: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Last-Event-ID", formatEventID(0, 0)) // resume after index 0
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	tr.HandleGet(rec, req)

	body := rec.Body.String()
	if strings.Count(body, "notifications/a") != 0 {
		t.Fatalf("resumed stream replayed an already-seen event: %q", body)
	}
	if !strings.Contains(body, "notifications/b") {
		t.Fatalf("resumed stream missing unseen event: %q", body)
	}
}

func TestStreamableServerTransport_Close_UnblocksReadAndWrite(t *testing.T) {
	tr := NewStreamableServerTransport("sess-5")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tr.Read(context.Background()); err == nil {
		t.Fatalf("Read after Close did not return an error")
	}
	if err := tr.Write(context.Background(), &jsonrpc.Request{Method: "x"}); err == nil {
		t.Fatalf("Write after Close did not return an error")
	}
}

func TestStreamableServerTransport_ReplyRoutingViaContext(t *testing.T) {
	tr := NewStreamableServerTransport("sess-6")

	// Simulate a POST stream awaiting id=7, and a notification sent while
	// handling that request (which has no Response ID of its own to route
	// by, so it must route via the context-stashed request ID).
	tr.mu.Lock()
	id := streamID(tr.nextStreamID.Add(1))
	st := tr.streamFor(id)
	st.pending[jsonrpc.Int64ID(7)] = struct{}{}
	tr.mu.Unlock()

	ctx := WithRequestID(context.Background(), jsonrpc.Int64ID(7))
	note := &jsonrpc.Request{Method: "notifications/progress"}
	if err := tr.Write(ctx, note); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(st.events) != 1 {
		t.Fatalf("stream %d has %d events, want 1", id, len(st.events))
	}
	if got := tr.streamOf(jsonrpc.Int64ID(7)); got != id {
		t.Fatalf("streamOf(7) = %d, want %d", got, id)
	}
}

// sanity-check against the HTTP flusher path using a real server, since
// httptest.NewRecorder doesn't exercise chunked transfer framing.
func TestStreamableServerTransport_HandlePost_OverRealHTTP(t *testing.T) {
	tr := NewStreamableServerTransport("sess-7")
	go func() {
		msg := <-tr.incoming
		req := msg.(*jsonrpc.Request)
		resp, _ := jsonrpc.NewResponse(req.ID, "pong")
		tr.Write(context.Background(), resp)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.HandlePost(w, r)
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "pong") {
		t.Fatalf("response stream missing pong: %q", joined)
	}
}
