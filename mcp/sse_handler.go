// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"sync"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// An SSEHTTPHandler is an http.Handler serving the legacy HTTP+SSE
// transport across all sessions.
//
// Unlike [StreamableHTTPHandler], it is not backed by [Registry]: session
// identity on this transport is carried purely in the "sessionId" query
// parameter, which never needs user-claim lookups on GET (a GET always
// creates a session), only on POST. A small local map suffices.
type SSEHTTPHandler struct {
	newEngine func(*http.Request) Engine

	mu       sync.Mutex
	sessions map[string]sseSession
}

type sseSession struct {
	claim     UserIdClaim
	transport *SSEServerTransport
}

// NewSSEHTTPHandler returns a handler that creates or looks up an [Engine]
// via newEngine for each session.
func NewSSEHTTPHandler(newEngine func(*http.Request) Engine) *SSEHTTPHandler {
	return &SSEHTTPHandler{
		newEngine: newEngine,
		sessions:  make(map[string]sseSession),
	}
}

// Close ends every live session's hanging GET immediately.
func (h *SSEHTTPHandler) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]sseSession)
	h.mu.Unlock()
	for _, s := range sessions {
		s.transport.Close()
	}
}

func (h *SSEHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		h.serveGet(w, req)
	case http.MethodPost:
		h.serveMessage(w, req)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

// serveGet handles GET /sse: create a session, emit the bootstrap
// "endpoint" event, then stream outgoing messages until the client
// disconnects or the server shuts this transport down.
func (h *SSEHTTPHandler) serveGet(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Content-Encoding", "identity")
	w.Header().Set("Connection", "keep-alive")

	claim, _ := ClaimsFromRequest(req)
	id := newSessionID()
	transport := NewSSEServerTransport(id, w)

	h.mu.Lock()
	h.sessions[id] = sseSession{claim: claim, transport: transport}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		transport.Close()
	}()

	if err := transport.WriteEndpointEvent(); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.newEngine(req).Run(ctx, transport) }()

	select {
	case <-req.Context().Done():
	case <-done:
	}
}

// serveMessage handles POST /message?sessionId=….
func (h *SSEHTTPHandler) serveMessage(w http.ResponseWriter, req *http.Request) {
	if !hasJSONContentType(req) {
		writeUnsupportedMediaType(w)
		return
	}
	id := req.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, "sessionId must be provided", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	session, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		writeSessionNotFound(w, jsonrpc.ID{})
		return
	}
	claim, _ := ClaimsFromRequest(req)
	if session.claim != claim {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	session.transport.ServeMessage(w, req)
}
