// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// TransportMode selects which wire encoding a [ClientTransport] uses.
type TransportMode int

const (
	// AutoDetect probes Streamable HTTP first and falls back to legacy SSE.
	// It is the default.
	AutoDetect TransportMode = iota
	// StreamableHttpMode connects directly via Streamable HTTP.
	StreamableHttpMode
	// SseMode connects directly via legacy HTTP+SSE.
	SseMode
)

// ClientTransportOptions configures [NewClientTransport].
type ClientTransportOptions struct {
	// Mode selects the wire encoding. The zero value is AutoDetect.
	Mode TransportMode

	// ConnectionTimeout bounds the AutoDetect probe as a whole: the initial
	// Streamable HTTP POST and, on fallback, the legacy SSE connect, endpoint
	// event and initial POST. 0 means 30 seconds. It is not applied in
	// StreamableHttpMode or SseMode.
	ConnectionTimeout time.Duration

	// AdditionalHeaders are merged into every outgoing HTTP request.
	AdditionalHeaders http.Header

	// Name is an opaque identifier used in logs by callers of this package;
	// the package itself does not log (see the ambient stack notes).
	Name string

	HTTPClient *http.Client
	MaxRetries int
}

func (o *ClientTransportOptions) connectionTimeout() time.Duration {
	if o == nil || o.ConnectionTimeout == 0 {
		return 30 * time.Second
	}
	return o.ConnectionTimeout
}

// A ClientTransport produces a [Connection] to an MCP server at endpoint,
// either directly in a named mode or via auto-detection.
type ClientTransport struct {
	endpoint *url.URL
	opts     ClientTransportOptions
}

// NewClientTransport returns a transport for endpoint, which must be an
// absolute http or https URL.
func NewClientTransport(endpoint string, opts *ClientTransportOptions) (*ClientTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid endpoint: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("mcp: endpoint must be an absolute http(s) URL, got %q", endpoint)
	}
	t := &ClientTransport{endpoint: u}
	if opts != nil {
		t.opts = *opts
	}
	return t, nil
}

// Connect returns a [Connection] using the configured mode, or — in
// AutoDetect mode — one that decides between Streamable HTTP and legacy
// SSE on first use.
//
// In AutoDetect mode, Connect itself never talks to the network: the probe
// only has something to send once the caller's first message (expected to
// be initialize) is available, so it runs lazily inside the returned
// [Connection]'s first Write call. Read and Write both block until that
// commitment resolves.
func (t *ClientTransport) Connect(ctx context.Context) (Connection, error) {
	switch t.opts.Mode {
	case StreamableHttpMode:
		return t.connectStreamable(ctx)
	case SseMode:
		return t.connectSSE(ctx)
	default:
		return &delegatingConn{endpoint: t.endpoint, opts: t.opts, committedCh: make(chan struct{})}, nil
	}
}

func (t *ClientTransport) connectStreamable(ctx context.Context) (Connection, error) {
	tr := NewStreamableClientTransport(t.endpoint.String(), &StreamableClientTransportOptions{
		HTTPClient:        t.opts.HTTPClient,
		MaxRetries:        t.opts.MaxRetries,
		AdditionalHeaders: t.opts.AdditionalHeaders,
	})
	return tr.Connect(ctx)
}

func (t *ClientTransport) connectSSE(ctx context.Context) (Connection, error) {
	tr, err := NewSSEClientTransport(t.endpoint.String(), t.opts.AdditionalHeaders)
	if err != nil {
		return nil, err
	}
	return tr.Connect(ctx)
}

// delegatingConn is the AutoDetect [Connection]: a stable handle callers can
// hold before it is known which wire encoding won the probe. Its first Write
// call performs the probe-then-fallback sequence, sending the caller's
// message as the probe's own payload so the message is never sent twice;
// every other call (including a concurrent Write racing the first one)
// blocks on committedCh and then delegates normally.
type delegatingConn struct {
	endpoint *url.URL
	opts     ClientTransportOptions

	mu            sync.Mutex
	commitStarted bool
	committed     Connection
	commitErr     error
	committedCh   chan struct{}
}

func (d *delegatingConn) awaitCommit(ctx context.Context) (Connection, error) {
	select {
	case <-d.committedCh:
		return d.committed, d.commitErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *delegatingConn) SessionID() string {
	select {
	case <-d.committedCh:
		if d.committed == nil {
			return ""
		}
		return d.committed.SessionID()
	default:
		return ""
	}
}

func (d *delegatingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	c, err := d.awaitCommit(ctx)
	if err != nil {
		return nil, err
	}
	return c.Read(ctx)
}

// Write implements [Connection]. The call that finds commitStarted false
// performs the probe, sending msg itself as the probe payload; it does not
// forward msg to the winning transport afterward, since the probe already
// delivered it.
func (d *delegatingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	d.mu.Lock()
	if d.commitStarted {
		d.mu.Unlock()
		c, err := d.awaitCommit(ctx)
		if err != nil {
			return err
		}
		return c.Write(ctx, msg)
	}
	d.commitStarted = true
	d.mu.Unlock()

	committed, err := d.probeAndConnect(ctx, msg)
	d.committed, d.commitErr = committed, err
	close(d.committedCh)
	return err
}

// probeAndConnect tries Streamable HTTP's initial POST first; on any
// failure, it disposes of that attempt and falls back to legacy SSE's
// connect handshake plus an initial POST to its advertised endpoint.
//
// It bounds the *decision* of which transport to use by a timer, not by a
// cancellable request context: once either attempt
// succeeds, the timer is stopped before it can fire, so the long-lived
// response body a successful attempt may already be streaming (the
// Streamable POST's SSE reply, or the legacy GET's hanging stream) is never
// cut short by the probe's own deadline. ctx only bounds how long the
// caller is willing to wait for commitment to resolve at all; it is not
// passed to either attempt, matching the rest of this package's client
// connections, which never tie a live stream's lifetime to a single call's
// context.
func (d *delegatingConn) probeAndConnect(ctx context.Context, first jsonrpc.Message) (Connection, error) {
	probeCtx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(d.opts.connectionTimeout(), cancel)
	defer timer.Stop()
	stopWatchingCaller := context.AfterFunc(ctx, cancel)
	defer stopWatchingCaller()

	streamTr := NewStreamableClientTransport(d.endpoint.String(), &StreamableClientTransportOptions{
		HTTPClient:        d.opts.HTTPClient,
		MaxRetries:        d.opts.MaxRetries,
		AdditionalHeaders: d.opts.AdditionalHeaders,
	})
	var streamErr error
	conn, err := streamTr.Connect(probeCtx)
	if err != nil {
		streamErr = err
	} else {
		sc := conn.(*streamableClientConn)
		sessionID, postErr := sc.postMessage(probeCtx, "", first)
		if postErr == nil {
			timer.Stop()
			sc.sessionID.Store(sessionID)
			return sc, nil
		}
		streamErr = postErr
		sc.Close()
	}

	sseTr, sseErr := NewSSEClientTransport(d.endpoint.String(), d.opts.AdditionalHeaders)
	if sseErr != nil {
		cancel()
		return nil, fmt.Errorf("mcp: streamable probe failed (%v) and sse transport could not be constructed: %w", streamErr, sseErr)
	}
	sseConn, connErr := sseTr.Connect(probeCtx)
	if connErr != nil {
		cancel()
		return nil, fmt.Errorf("mcp: both streamable (%v) and sse (%v) connection attempts failed", streamErr, connErr)
	}
	if sendErr := sseConn.Write(probeCtx, first); sendErr != nil {
		sseConn.Close()
		cancel()
		return nil, fmt.Errorf("mcp: both streamable (%v) and sse (%v) connection attempts failed", streamErr, sendErr)
	}
	timer.Stop()
	return sseConn, nil
}

func (d *delegatingConn) Close() error {
	select {
	case <-d.committedCh:
		if d.committed == nil {
			return nil
		}
		return d.committed.Close()
	default:
		return nil
	}
}

// SetProtocolVersion implements [ProtocolVersionSetter] once committed; both
// client transports in this package support it.
func (d *delegatingConn) SetProtocolVersion(v string) {
	select {
	case <-d.committedCh:
		if setter, ok := d.committed.(ProtocolVersionSetter); ok {
			setter.SetProtocolVersion(v)
		}
	default:
	}
}
