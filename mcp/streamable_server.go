// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomcp/streamtransport/internal/sse"
	"github.com/gomcp/streamtransport/jsonrpc"
)

// A StreamableServerTransport implements the server side of one session's
// Streamable HTTP transport: a single URL handling GET, POST, and DELETE.
//
// It multiplexes multiple logical streams over the lifetime of one session:
// streamID 0 is the long-lived "unsolicited" stream fed by a GET; every POST
// opens its own numbered stream, scoped to the lifetime of that POST's HTTP
// response. Responses are routed to the stream whose request produced them,
// per the reply-routing rule described alongside [StreamableServerTransport.Write].
type StreamableServerTransport struct {
	id string

	incoming chan jsonrpc.Message // parsed client->server messages, read by the Engine

	nextStreamID atomic.Int64

	mu sync.Mutex

	isDone bool
	done   chan struct{}

	// streams holds per-stream bookkeeping, keyed by streamID. Stream 0
	// always exists once referenced by a GET; POST streams are created by
	// HandlePost. No entry is ever removed: once a POST's response body
	// finishes its entry simply stops being written to, but is kept for the
	// lifetime of the session to allow Last-Event-ID resumption.
	streams map[streamID]*serverStream
}

type streamID int64

// serverStream is the per-logical-stream state backing one entry in
// StreamableServerTransport.streams.
type serverStream struct {
	// events is the ordered log of every message sent on this stream, kept
	// for the session's lifetime to support Last-Event-ID resumption. Only
	// appended to under transport.mu.
	events []sse.Item

	// pending is the set of request IDs this stream (a single POST's body)
	// is still waiting to answer. nil for stream 0, which never completes.
	pending map[jsonrpc.ID]struct{}

	// signal wakes a blocked reader (HandleGet/HandlePost) when new events
	// are appended or pending transitions to empty.
	signal chan struct{}
}

// NewStreamableServerTransport returns a transport for a new session
// identified by sessionID.
func NewStreamableServerTransport(sessionID string) *StreamableServerTransport {
	return &StreamableServerTransport{
		id:       sessionID,
		incoming: make(chan jsonrpc.Message, 10),
		done:     make(chan struct{}),
		streams:  make(map[streamID]*serverStream),
	}
}

// SessionID implements [Connection].
func (t *StreamableServerTransport) SessionID() string { return t.id }

// Read implements [Connection]; it is how an [Engine] receives parsed
// client messages.
func (t *StreamableServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// idContextKey is how the incoming request ID travels alongside a Context
// into Engine.Run, so that a reply written via Write (possibly several
// calls deep, for a notification sent while handling that request) can be
// routed back to the POST stream that is waiting on it — without adding a
// routing field to jsonrpc.Message itself. See the component design notes
// for the rationale.
type idContextKey struct{}

// WithRequestID returns a context that carries id as the "current request"
// for routing purposes. An [Engine] passes such a context to Write for the
// messages it produces while handling that request; nothing in this
// package calls it on the Engine's behalf.
func WithRequestID(ctx context.Context, id jsonrpc.ID) context.Context {
	return context.WithValue(ctx, idContextKey{}, id)
}

// Write implements [Connection]; it is how an [Engine] sends a
// server-initiated response or notification.
//
// Reply routing: if msg is a *jsonrpc.Response, its ID directly identifies
// the stream it answers. Otherwise, the stream is recovered from the
// request ID stashed in ctx by [WithRequestID]; absent that (a message
// sent outside any request's handling), it goes to stream 0, the
// unsolicited stream.
func (t *StreamableServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	var forRequest, replyTo jsonrpc.ID
	if resp, ok := msg.(*jsonrpc.Response); ok {
		forRequest = resp.ID
		replyTo = resp.ID
	} else if v := ctx.Value(idContextKey{}); v != nil {
		forRequest = v.(jsonrpc.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone {
		return io.EOF
	}

	var id streamID
	if forRequest.IsValid() {
		id = t.streamOf(forRequest)
	}
	st := t.streamFor(id)

	eventID := formatEventID(id, len(st.events))
	st.events = append(st.events, sse.Item{ID: eventID, EventType: "message", Message: msg})

	if replyTo.IsValid() && st.pending != nil {
		delete(st.pending, replyTo)
	}

	select {
	case st.signal <- struct{}{}:
	default:
	}
	return nil
}

// streamOf returns the streamID that requestID was received on, recorded by
// HandlePost. It must be called with t.mu held.
func (t *StreamableServerTransport) streamOf(requestID jsonrpc.ID) streamID {
	for id, st := range t.streams {
		if st.pending != nil {
			if _, ok := st.pending[requestID]; ok {
				return id
			}
		}
	}
	return 0
}

// streamFor returns the serverStream for id, creating it if necessary. It
// must be called with t.mu held.
func (t *StreamableServerTransport) streamFor(id streamID) *serverStream {
	st, ok := t.streams[id]
	if !ok {
		st = &serverStream{signal: make(chan struct{}, 1)}
		if id != 0 {
			st.pending = make(map[jsonrpc.ID]struct{})
		}
		t.streams[id] = st
	}
	return st
}

// Close implements [Connection].
func (t *StreamableServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isDone {
		t.isDone = true
		close(t.done)
	}
	return nil
}

// HandleGet serves the transport's GET: a long-lived SSE stream pushing the
// unsolicited channel (stream 0), or resuming a specific stream named by
// Last-Event-ID.
func (t *StreamableServerTransport) HandleGet(w http.ResponseWriter, req *http.Request) {
	id, nextIndex := streamID(0), 0
	if eid := req.Header.Get("Last-Event-ID"); eid != "" {
		sid, idx, ok := parseEventID(eid)
		if !ok {
			http.Error(w, fmt.Sprintf("malformed Last-Event-ID %q", eid), http.StatusBadRequest)
			return
		}
		id, nextIndex = sid, idx+1
	}
	t.streamResponse(w, req, id, nextIndex)
}

// HandlePost serves the transport's POST: parse the body (one message or a
// batch), enqueue requests for the Engine, and either report 202 (body held
// only notifications/responses) or stream responses as SSE until every
// request in the body has been answered.
//
// wroteResponse reports whether an SSE body was written (as opposed to a
// bare 202).
func (t *StreamableServerTransport) HandlePost(w http.ResponseWriter, req *http.Request) (wroteResponse bool) {
	if req.Header.Get("Last-Event-ID") != "" {
		http.Error(w, "can't send Last-Event-ID for POST request", http.StatusBadRequest)
		return false
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return false
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if len(body) == 0 {
		http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
		return false
	}

	msgs, _, err := jsonrpc.DecodeBatch(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
		return false
	}

	id := streamID(t.nextStreamID.Add(1))

	t.mu.Lock()
	st := t.streamFor(id)
	for _, msg := range msgs {
		if r, ok := msg.(*jsonrpc.Request); ok && r.ID.IsValid() {
			st.pending[r.ID] = struct{}{}
		}
	}
	hasRequests := len(st.pending) > 0
	t.mu.Unlock()

	for _, msg := range msgs {
		select {
		case t.incoming <- msg:
		case <-req.Context().Done():
			return false
		case <-t.done:
			http.Error(w, "session terminated", http.StatusGone)
			return false
		}
	}

	if !hasRequests {
		w.Header().Set("Mcp-Session-Id", t.id)
		w.WriteHeader(http.StatusAccepted)
		return false
	}

	t.streamResponse(w, req, id, 0)
	return true
}

// HandleDelete closes t and responds 200 OK. It does not remove a session
// from a [Registry] or stop the session's Engine; [StreamableHTTPHandler]
// serves DELETE through [Registry.Delete] instead, which does both.
func (t *StreamableServerTransport) HandleDelete(w http.ResponseWriter, req *http.Request) {
	t.Close()
	w.WriteHeader(http.StatusOK)
}

// streamResponse drains stream id's event log (starting at nextIndex) to w
// as SSE, blocking for more events until the stream completes (its pending
// set reaches empty, for a POST stream) or req's context is done.
func (t *StreamableServerTransport) streamResponse(w http.ResponseWriter, req *http.Request, id streamID, nextIndex int) {
	t.mu.Lock()
	st := t.streamFor(id)
	t.mu.Unlock()

	w.Header().Set("Mcp-Session-Id", t.id)
	sw := sse.NewWriter(w)

	writes := 0
	sseHeadersSet := false
	setSSEHeaders := func() {
		if sseHeadersSet {
			return
		}
		sseHeadersSet = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.Header().Set("Content-Encoding", "identity")
		w.Header().Set("Connection", "keep-alive")
	}
	if req.Method == http.MethodGet {
		// A GET's stream is always SSE, even before its first event: send
		// the framing headers immediately so the client's connection opens
		// right away instead of waiting on a first write that may be long
		// in coming.
		setSSEHeaders()
	}
	for {
		t.mu.Lock()
		pending := st.events[min(nextIndex, len(st.events)):]
		t.mu.Unlock()

		for _, item := range pending {
			setSSEHeaders()
			if err := sw.WriteOne(item); err != nil {
				return
			}
			writes++
			nextIndex++
		}

		t.mu.Lock()
		outstanding := len(st.pending)
		hasMore := nextIndex < len(st.events)
		t.mu.Unlock()
		if hasMore {
			continue
		}

		if req.Method == http.MethodPost && st.pending != nil && outstanding == 0 {
			if writes == 0 {
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}

		select {
		case <-st.signal:
		case <-t.done:
			if writes == 0 {
				http.Error(w, "session terminated", http.StatusGone)
			}
			return
		case <-req.Context().Done():
			return
		}
	}
}

// formatEventID and parseEventID encode (streamID, index) pairs as SSE
// event IDs, <streamID>_<idx>, so Last-Event-ID can name a precise resume
// point.
func formatEventID(id streamID, idx int) string {
	return fmt.Sprintf("%d_%d", id, idx)
}

func parseEventID(eventID string) (id streamID, idx int, ok bool) {
	parts := strings.Split(eventID, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || n < 0 {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(parts[1])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return streamID(n), idx, true
}
