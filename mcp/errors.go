// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// ErrSessionNotFound is returned by the Registry when a request presents a
// session ID that is not (or no longer) in the map.
var ErrSessionNotFound = errors.New("mcp: session not found")

// ErrUserMismatch is returned when a request presents a session ID whose
// stored user claim differs from the request's authenticated principal.
var ErrUserMismatch = errors.New("mcp: session belongs to a different user")

// An HTTPStatusError pairs an error with the HTTP status code of the failed
// request that caused it. The client transports return it so retry logic
// can inspect a failed request's status uniformly.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP status %d", e.StatusCode)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

// WriteJSONRPCError writes a JSON-RPC error envelope as an HTTP response
// with the given status code. id may be invalid (the zero ID), in which
// case the envelope's "id" field is null, per the JSON-RPC spec for errors
// that precede request parsing.
func WriteJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, code int64, message string, httpStatus int) {
	resp := jsonrpc.NewErrorResponse(id, code, message)
	data, err := jsonrpc.EncodeMessage(resp)
	if err != nil {
		http.Error(w, message, httpStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(data)
}

// writeSessionNotFound writes the non-standard -32001 envelope for an
// unknown session ID.
func writeSessionNotFound(w http.ResponseWriter, id jsonrpc.ID) {
	WriteJSONRPCError(w, id, jsonrpc.CodeSessionNotFound, "Session not found", http.StatusNotFound)
}
