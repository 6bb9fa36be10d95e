// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/gomcp/streamtransport/internal/sse"
	"github.com/gomcp/streamtransport/jsonrpc"
)

// endpointTemplate builds the relative URL the legacy SSE GET advertises in
// its bootstrap "endpoint" event: "message?sessionId={id}".
var endpointTemplate *uritemplate.Template

func init() {
	t, err := uritemplate.New("message{?sessionId}")
	if err != nil {
		panic("mcp: invalid endpoint uri template: " + err.Error())
	}
	endpointTemplate = t
}

func endpointURL(sessionID string) (string, error) {
	return endpointTemplate.Expand(uritemplate.Values{
		"sessionId": uritemplate.String(sessionID),
	})
}

// An SSEServerTransport implements the server side of the legacy HTTP+SSE
// transport for one session: a long-lived GET that streams server->client
// messages, and a POST that carries client->server messages.
type SSEServerTransport struct {
	id       string
	incoming chan jsonrpc.Message // never closed; Close signals via done instead

	mu     sync.Mutex
	w      *sse.Writer
	closed bool
	done   chan struct{}
}

// NewSSEServerTransport returns a transport bound to sessionID and the
// hanging GET response w came from.
func NewSSEServerTransport(sessionID string, w http.ResponseWriter) *SSEServerTransport {
	return &SSEServerTransport{
		id:       sessionID,
		incoming: make(chan jsonrpc.Message, 100),
		w:        sse.NewWriter(w),
		done:     make(chan struct{}),
	}
}

// SessionID implements [Connection].
func (t *SSEServerTransport) SessionID() string { return t.id }

// WriteEndpointEvent writes the bootstrap "endpoint" event that must be the
// first thing the GET response sends.
func (t *SSEServerTransport) WriteEndpointEvent() error {
	url, err := endpointURL(t.id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WriteOne(sse.Item{EventType: "endpoint", Endpoint: []byte(url)})
}

// ServeMessage handles the transport's POST /message: parse the body (one
// message or a batch) and enqueue every message for the Engine. The legacy
// transport has no per-POST response stream to route replies to — every
// reply surfaces later on the hanging GET — so once the body is enqueued
// there is nothing left to wait for.
func (t *SSEServerTransport) ServeMessage(w http.ResponseWriter, req *http.Request) {
	if !hasJSONContentType(req) {
		writeUnsupportedMediaType(w)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, DefaultMaxBodyBytes))
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	msgs, _, err := jsonrpc.DecodeBatch(data)
	if err != nil {
		http.Error(w, "failed to parse body", http.StatusBadRequest)
		return
	}
	for _, msg := range msgs {
		select {
		case t.incoming <- msg:
		case <-t.done:
			http.Error(w, "session closed", http.StatusBadRequest)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Accepted"))
}

// Read implements [Connection].
func (t *SSEServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-t.incoming:
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Write implements [Connection]: every server->client message on the
// legacy transport is a "message" SSE event on the single hanging GET —
// there is no per-POST routing to do, unlike the Streamable transport.
func (t *SSEServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.EOF
	}
	return t.w.WriteOne(sse.Item{EventType: "message", Message: msg})
}

// Close implements [Connection]; it ends the hanging GET.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
