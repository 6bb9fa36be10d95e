// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/gomcp/streamtransport/internal/sse"
	"github.com/gomcp/streamtransport/jsonrpc"
)

// An SSEClientTransport connects to a server speaking the legacy HTTP+SSE
// transport at a fixed GET endpoint.
type SSEClientTransport struct {
	sseEndpoint *url.URL
	headers     http.Header
}

// NewSSEClientTransport returns a transport that connects to the SSE
// endpoint at baseURL.
func NewSSEClientTransport(baseURL string, headers http.Header) (*SSEClientTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &SSEClientTransport{sseEndpoint: u, headers: headers}, nil
}

// Connect performs the legacy handshake: GET the SSE endpoint and wait for
// the bootstrap "endpoint" event naming the POST endpoint.
func (c *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sseEndpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("GET %s failed", c.sseEndpoint)}
	}

	next, stop := iter.Pull2(sse.ScanEvents(resp.Body))
	closeIter := true
	defer func() {
		if closeIter {
			stop()
		}
	}()

	evt, err, ok := next()
	if !ok || err != nil {
		resp.Body.Close()
		if err == nil {
			err = io.EOF
		}
		return nil, fmt.Errorf("missing endpoint event: %w", err)
	}
	if evt.Name != "endpoint" {
		resp.Body.Close()
		return nil, fmt.Errorf("first event is %q, want %q", evt.Name, "endpoint")
	}
	msgEndpoint, err := c.sseEndpoint.Parse(string(evt.Data))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("malformed endpoint %q: %w", evt.Data, err)
	}

	s := &sseClientConn{
		msgEndpoint: msgEndpoint,
		headers:     c.headers,
		incoming:    make(chan []byte, 100),
		body:        resp.Body,
		done:        make(chan struct{}),
	}

	go func() {
		defer stop()
		defer s.Close()
		for {
			evt, err, ok := next()
			if !ok || err != nil {
				return
			}
			select {
			case s.incoming <- evt.Data:
			case <-s.done:
				return
			}
		}
	}()
	closeIter = false

	return s, nil
}

// An sseClientConn is the [Connection] side of a connected
// [SSEClientTransport]: writes POST the message endpoint, reads drain the
// hanging GET's message queue.
type sseClientConn struct {
	msgEndpoint *url.URL
	headers     http.Header
	incoming    chan []byte

	mu              sync.Mutex
	body            io.ReadCloser
	closed          bool
	done            chan struct{}
	protocolVersion string
}

// SetProtocolVersion implements [ProtocolVersionSetter].
func (c *sseClientConn) SetProtocolVersion(v string) {
	c.mu.Lock()
	c.protocolVersion = v
	c.mu.Unlock()
}

func (c *sseClientConn) SessionID() string {
	return c.msgEndpoint.Query().Get("sessionId")
}

func (c *sseClientConn) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Read implements [Connection].
func (c *sseClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, io.EOF
	case data := <-c.incoming:
		if c.isDone() {
			return nil, io.EOF
		}
		return jsonrpc.DecodeMessage(data)
	}
}

// Write implements [Connection] by POSTing to the advertised message
// endpoint.
func (c *sseClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if c.isDone() {
		return io.EOF
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.msgEndpoint.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.mu.Lock()
	if c.protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", c.protocolVersion)
	}
	c.mu.Unlock()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("POST %s failed", c.msgEndpoint)}
	}
	return nil
}

// Close implements [Connection].
func (c *sseClientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.body.Close()
		close(c.done)
	}
	return nil
}
