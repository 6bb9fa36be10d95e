// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"sync/atomic"
	"time"
)

// A Session is the Registry's record of one logical client: its identity,
// its reference count, and the owning transport's run task.
//
// A Session holds no lock of its own. RefCount and LastActivityMonotonic
// are atomics so Reference/Unreference never block a concurrent HTTP
// handler, and the Registry's map gives the Session its own
// mutual-exclusion for insert/lookup/delete.
type Session struct {
	// ID is immutable for the life of the session.
	ID string

	// userClaim is immutable, set at creation from the request that
	// created the session. The zero value means "not authenticated."
	userClaim UserIdClaim

	// transport is the server-side endpoint object this session owns
	// exclusively: either a *StreamableServerTransport or an
	// *SSEServerTransport.
	transport Connection

	refCount              atomic.Int32
	lastActivityMonotonic atomic.Int64 // UnixNano; 0 means "never idle yet"

	cancel context.CancelFunc // cancels runCtx, stopping runTask
	done   chan struct{}      // closed when runTask returns
}

// newSession constructs a Session bound to transport and claim, and starts
// engine.Run as its runTask under a context derived from parent.
func newSession(parent context.Context, id string, transport Connection, claim UserIdClaim, engine Engine) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        id,
		userClaim: claim,
		transport: transport,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		engine.Run(ctx, transport)
	}()
	return s
}

// Reference increments the session's reference count. Handlers call this on
// entry so idle cleanup (keyed on LastActivityMonotonic) cannot race with an
// in-flight request.
func (s *Session) Reference() {
	s.refCount.Add(1)
}

// Unreference decrements the session's reference count. If the count drops
// to zero, it stamps LastActivityMonotonic with the current time.
func (s *Session) Unreference() {
	if s.refCount.Add(-1) == 0 {
		s.lastActivityMonotonic.Store(time.Now().UnixNano())
	}
}

// LastActivity returns the time LastActivityMonotonic was last stamped, or
// the zero time if the session has never gone idle.
func (s *Session) LastActivity() time.Time {
	ns := s.lastActivityMonotonic.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// HasSameUser reports whether claim matches the user this session was
// created for, blocking cross-user takeover of a guessed or leaked session
// ID. An unauthenticated session (zero claim) only matches another
// unauthenticated request.
func (s *Session) HasSameUser(claim UserIdClaim) bool {
	return s.userClaim == claim
}

// close cancels the session's runTask and waits for it to return, then
// closes the underlying transport.
func (s *Session) close() error {
	s.cancel()
	<-s.done
	return s.transport.Close()
}
