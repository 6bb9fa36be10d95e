// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// engineFunc adapts a plain function to the [Engine] interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type engineFunc func(ctx context.Context, conn Connection) error

func (f engineFunc) Run(ctx context.Context, conn Connection) error { return f(ctx, conn) }

// A StreamableHTTPHandler is an http.Handler serving the Streamable HTTP
// transport for every session tracked by a [Registry].
//
// It owns session lifecycle end to end: creating sessions on the first
// session-less request, looking them up by the Mcp-Session-Id header on
// subsequent ones, and tearing them down on DELETE or Close.
type StreamableHTTPHandler struct {
	registry  *Registry
	newEngine func(*http.Request) Engine

	maxBodyBytes int64
}

// NewStreamableHTTPHandler returns a handler that creates or looks up an
// [Engine] via newEngine for each session. It is fine for newEngine to
// return the same Engine for every session.
func NewStreamableHTTPHandler(newEngine func(*http.Request) Engine) *StreamableHTTPHandler {
	return &StreamableHTTPHandler{
		registry:     NewRegistry(),
		newEngine:    newEngine,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Close tears down every live session immediately, without waiting for a
// shutdown grace period.
func (h *StreamableHTTPHandler) Close() { h.registry.Shutdown() }

func (h *StreamableHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	accept := strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",")
	var jsonOK, streamOK bool
	for _, c := range accept {
		switch strings.TrimSpace(c) {
		case "application/json":
			jsonOK = true
		case "text/event-stream":
			streamOK = true
		case "*/*", "":
			jsonOK, streamOK = true, true
		}
	}
	if req.Method == http.MethodGet {
		if !streamOK {
			http.Error(w, "Accept must contain 'text/event-stream' for GET requests", http.StatusBadRequest)
			return
		}
	} else if req.Method == http.MethodPost {
		if !jsonOK || !streamOK {
			http.Error(w, "Accept must contain both 'application/json' and 'text/event-stream'", http.StatusBadRequest)
			return
		}
		if !hasJSONContentType(req) {
			writeUnsupportedMediaType(w)
			return
		}
	}

	switch req.Method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	if req.Method == http.MethodDelete {
		id := req.Header.Get("Mcp-Session-Id")
		if id == "" {
			http.Error(w, "DELETE requires an Mcp-Session-Id header", http.StatusBadRequest)
			return
		}
		if session, ok := h.registry.Get(id); ok {
			claim, _ := ClaimsFromRequest(req)
			if !session.HasSameUser(claim) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
		if err := h.registry.Delete(id); err != nil {
			writeSessionNotFound(w, jsonrpc.ID{})
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	body := http.MaxBytesReader(w, req.Body, effectiveMaxBodyBytes(h.maxBodyBytes))
	req.Body = body

	// The session outlives the request that creates it, so its run task must
	// not be cancelled when this request ends.
	session, err := h.registry.GetOrCreate(context.WithoutCancel(req.Context()), req, w,
		func(id string) Connection { return NewStreamableServerTransport(id) },
		engineFunc(func(ctx context.Context, conn Connection) error {
			return h.newEngine(req).Run(ctx, conn)
		}),
	)
	if err != nil {
		switch err {
		case ErrSessionNotFound:
			writeSessionNotFound(w, jsonrpc.ID{})
		case ErrUserMismatch:
			w.WriteHeader(http.StatusForbidden)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	session.Reference()
	defer session.Unreference()

	transport := session.transport.(*StreamableServerTransport)
	switch req.Method {
	case http.MethodGet:
		transport.HandleGet(w, req)
	case http.MethodPost:
		transport.HandlePost(w, req)
	}
}
