// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// registryShardCount is the number of independently-locked shards in a
// Registry's map. Session IDs are hashed with xxhash to pick a shard, which
// bounds lock contention on a busy server without the complexity of a
// lock-free map.
const registryShardCount = 16

// A Registry is the process-wide, thread-safe map from session ID to
// [Session]. It is the only place a session is created, looked up, or
// deleted.
type Registry struct {
	shards [registryShardCount]registryShard
}

type registryShard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

func (r *Registry) shardFor(id string) *registryShard {
	h := xxhash.Sum64String(id)
	return &r.shards[h%registryShardCount]
}

// Get looks up id without creating anything. It returns nil, false if there
// is no such session.
func (r *Registry) Get(id string) (*Session, bool) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	s, ok := shard.sessions[id]
	return s, ok
}

// GetOrCreate implements the Registry's core operation (spec §4.E):
//
//   - If req carries no "mcp-session-id" header, a new session is created,
//     bound to req's authenticated principal, inserted into the map, and
//     its ID is written onto resp's "mcp-session-id" header.
//   - If req carries a header naming an unknown session, ErrSessionNotFound
//     is returned and the caller must respond 404 with the -32001 envelope.
//   - If req carries a header naming a known session whose stored claim
//     differs from req's principal, ErrUserMismatch is returned and the
//     caller must respond 403.
//
// newTransport is called (with the newly allocated session ID) only when a
// new session is actually being created. ID generation, transport creation
// and the start of engine.Run happen before the shard lock is taken; only
// the insertion is done under it, where a duplicate ID is treated as a
// fatal invariant violation.
func (r *Registry) GetOrCreate(ctx context.Context, req *http.Request, resp http.ResponseWriter, newTransport func(id string) Connection, engine Engine) (*Session, error) {
	claim, _ := ClaimsFromRequest(req)

	if id := req.Header.Get("Mcp-Session-Id"); id != "" {
		shard := r.shardFor(id)
		shard.mu.Lock()
		s, ok := shard.sessions[id]
		shard.mu.Unlock()
		if !ok {
			return nil, ErrSessionNotFound
		}
		if !s.HasSameUser(claim) {
			return nil, ErrUserMismatch
		}
		resp.Header().Set("Mcp-Session-Id", s.ID)
		return s, nil
	}

	id := newSessionID()
	shard := r.shardFor(id)
	transport := newTransport(id)
	session := newSession(ctx, id, transport, claim, engine)

	shard.mu.Lock()
	if _, collision := shard.sessions[id]; collision {
		shard.mu.Unlock()
		assert(false, "mcp: session id collision on insert")
	}
	shard.sessions[id] = session
	shard.mu.Unlock()

	resp.Header().Set("Mcp-Session-Id", id)
	return session, nil
}

// Delete atomically removes id from the Registry and disposes of its
// session (cancelling its run task and closing its transport).
func (r *Registry) Delete(id string) error {
	shard := r.shardFor(id)
	shard.mu.Lock()
	s, ok := shard.sessions[id]
	delete(shard.sessions, id)
	shard.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return s.close()
}

// Shutdown cancels every live session's run task and closes its transport,
// without waiting for any default shutdown grace period. It is meant to be
// called once, from the server's top-level shutdown path.
func (r *Registry) Shutdown() {
	var wg sync.WaitGroup
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		sessions := make([]*Session, 0, len(shard.sessions))
		for _, s := range shard.sessions {
			sessions = append(sessions, s)
		}
		shard.sessions = make(map[string]*Session)
		shard.mu.Unlock()

		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				s.close()
			}(s)
		}
	}
	wg.Wait()
}
