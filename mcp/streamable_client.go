// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomcp/streamtransport/internal/sse"
	"github.com/gomcp/streamtransport/jsonrpc"
)

// StreamableClientTransportOptions configures [NewStreamableClientTransport].
type StreamableClientTransportOptions struct {
	// HTTPClient is the client used for requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retries for sending a message or
	// re-establishing the hanging GET. 0 means no retries beyond the
	// initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; later retries back
	// off exponentially. 0 means a default of 1 second.
	InitialBackoff time.Duration

	// AdditionalHeaders are merged into every outgoing request.
	AdditionalHeaders http.Header
}

// A StreamableClientTransport connects to a server speaking the Streamable
// HTTP transport at a fixed URL.
type StreamableClientTransport struct {
	url  string
	opts StreamableClientTransportOptions
}

// NewStreamableClientTransport returns a transport that connects to url.
func NewStreamableClientTransport(url string, opts *StreamableClientTransportOptions) *StreamableClientTransport {
	t := &StreamableClientTransport{url: url}
	if opts != nil {
		t.opts = *opts
	}
	if t.opts.InitialBackoff == 0 {
		t.opts.InitialBackoff = time.Second
	}
	return t
}

// Connect dials the transport's URL and returns the [Connection] through
// which messages are sent and received.
func (t *StreamableClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	conn := &streamableClientConn{
		url:             t.url,
		client:          client,
		headers:         t.opts.AdditionalHeaders,
		incoming:        make(chan []byte, 100),
		done:            make(chan struct{}),
		pendingMessages: make(chan jsonrpc.Message, 100),
		maxRetries:      t.opts.MaxRetries,
		initialBackoff:  t.opts.InitialBackoff,
		randSource:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	conn.sessionID.Store("")
	conn.protocolVersion.Store("")

	go conn.startMessageWriter()
	go conn.startEventStreamReceiver()

	return conn, nil
}

type streamableClientConn struct {
	url             string
	sessionID       atomic.Value // string
	protocolVersion atomic.Value // string; empty until initialize succeeds
	client          *http.Client
	headers         http.Header
	incoming        chan []byte
	done            chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu          sync.Mutex
	lastEventID string
	err         error

	pendingMessages chan jsonrpc.Message

	maxRetries     int
	initialBackoff time.Duration
	randSource     *rand.Rand

	cancelHangingGet context.CancelFunc
}

func (s *streamableClientConn) SessionID() string {
	return s.sessionID.Load().(string)
}

// SetProtocolVersion records the negotiated protocol version from a
// successful initialize response, so every subsequent request carries
// MCP-Protocol-Version.
func (s *streamableClientConn) SetProtocolVersion(v string) {
	s.protocolVersion.Store(v)
}

func (s *streamableClientConn) applyHeaders(req *http.Request) {
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if v, _ := s.protocolVersion.Load().(string); v != "" {
		req.Header.Set("MCP-Protocol-Version", v)
	}
}

// Read implements [Connection].
func (s *streamableClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case data := <-s.incoming:
		return jsonrpc.DecodeMessage(data)
	}
}

// Write implements [Connection] by enqueuing msg for the background
// writer, which applies retries.
func (s *streamableClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		return io.EOF
	case s.pendingMessages <- msg:
		return nil
	}
}

func (s *streamableClientConn) startMessageWriter() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.pendingMessages:
			ctx, cancel := context.WithCancel(context.Background())
			go func(msgToSend jsonrpc.Message) {
				defer cancel()

				currentSessionID := s.sessionID.Load().(string)
				var lastErr error
				for i := 0; i <= s.maxRetries; i++ {
					select {
					case <-s.done:
						return
					case <-ctx.Done():
						return
					default:
					}

					gotSessionID, sendErr := s.postMessage(ctx, currentSessionID, msgToSend)
					if sendErr == nil {
						if currentSessionID == "" && gotSessionID != "" {
							s.sessionID.Store(gotSessionID)
						}
						return
					}

					lastErr = sendErr
					if !isRetryable(sendErr) || i == s.maxRetries {
						break
					}

					backoffDuration := s.initialBackoff * time.Duration(1<<uint(i))
					jitter := time.Duration(s.randSource.Int63n(int64(backoffDuration/2) + 1))
					delay := backoffDuration + jitter

					select {
					case <-ctx.Done():
						return
					case <-time.After(delay):
					}
				}
				s.mu.Lock()
				s.err = fmt.Errorf("failed to send message after %d retries: %w", s.maxRetries, lastErr)
				s.mu.Unlock()
				s.Close()
			}(msg)
		}
	}
}

func (s *streamableClientConn) postMessage(ctx context.Context, currentSessionID string, msg jsonrpc.Message) (string, error) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create POST request: %w", err)
	}
	if currentSessionID != "" {
		req.Header.Set("Mcp-Session-Id", currentSessionID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return "", &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("POST request returned unexpected status %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(bodyBytes))),
		}
	}

	newSessionID := resp.Header.Get("Mcp-Session-Id")
	if currentSessionID == "" && newSessionID == "" {
		resp.Body.Close()
		return "", fmt.Errorf("initial POST request did not return an Mcp-Session-Id")
	}
	if newSessionID == "" {
		newSessionID = currentSessionID
	}

	switch resp.Header.Get("Content-Type") {
	case "text/event-stream":
		go s.handleSSE(resp)
	default:
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
	}

	return newSessionID, nil
}

func (s *streamableClientConn) startEventStreamReceiver() {
	backoffDuration := s.initialBackoff
	retries := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		sessionID := s.sessionID.Load().(string)
		if sessionID == "" {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancelHangingGet = cancel
		lastEventID := s.lastEventID
		s.mu.Unlock()

		err := s.performHangingGet(ctx, sessionID, lastEventID)

		s.mu.Lock()
		s.cancelHangingGet = nil
		s.mu.Unlock()
		cancel()

		if err == nil {
			retries = 0
			backoffDuration = s.initialBackoff
			continue
		}

		if retries >= s.maxRetries {
			s.mu.Lock()
			s.err = fmt.Errorf("failed to maintain SSE connection after %d retries: %w", s.maxRetries, err)
			s.mu.Unlock()
			s.Close()
			return
		}

		delay := backoffDuration + time.Duration(s.randSource.Int63n(int64(backoffDuration/2)+1))
		select {
		case <-s.done:
			return
		case <-time.After(delay):
			retries++
			backoffDuration *= 2
			if backoffDuration > 30*time.Second {
				backoffDuration = 30 * time.Second
			}
		}
	}
}

func (s *streamableClientConn) performHangingGet(ctx context.Context, sessionID, lastEventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create GET request: %w", err)
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("GET request returned unexpected status %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(bodyBytes))),
		}
	}

	return s.handleSSE(resp)
}

func (s *streamableClientConn) handleSSE(resp *http.Response) error {
	defer resp.Body.Close()
	for evt, err := range sse.ScanEvents(resp.Body) {
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error scanning SSE events: %w", err)
		}
		if evt.ID != "" {
			s.mu.Lock()
			s.lastEventID = evt.ID
			s.mu.Unlock()
		}
		select {
		case s.incoming <- evt.Data:
		case <-s.done:
			return io.EOF
		}
	}
	return nil
}

// isRetryable reports whether err indicates a transient condition worth
// retrying: a retryable HTTP status, or a network timeout.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusRequestTimeout,
			http.StatusTooEarly,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return false
}

// Close implements [Connection]: stops background goroutines and, if a
// session was established, issues DELETE to terminate it server-side.
func (s *streamableClientConn) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		if s.cancelHangingGet != nil {
			s.cancelHangingGet()
		}
		s.mu.Unlock()
		close(s.pendingMessages)

		sessionID := s.sessionID.Load().(string)
		if sessionID != "" {
			req, err := http.NewRequest(http.MethodDelete, s.url, nil)
			if err != nil {
				s.closeErr = fmt.Errorf("failed to create DELETE request: %w", err)
			} else {
				req.Header.Set("Mcp-Session-Id", sessionID)
				s.applyHeaders(req)
				if _, err := s.client.Do(req); err != nil {
					s.closeErr = fmt.Errorf("failed to send DELETE request to terminate session: %w", err)
				}
			}
		}
	})
	return s.closeErr
}
