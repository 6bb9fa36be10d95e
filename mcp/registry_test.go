// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// blockingEngine runs until its context is cancelled, recording whether it
// ever started.
type blockingEngine struct {
	started chan struct{}
}

func newBlockingEngine() *blockingEngine { return &blockingEngine{started: make(chan struct{})} }

func (e *blockingEngine) Run(ctx context.Context, conn Connection) error {
	close(e.started)
	<-ctx.Done()
	return ctx.Err()
}

func newTestTransport(id string) Connection { return NewStreamableServerTransport(id) }

func TestRegistry_GetOrCreate_NoHeaderCreatesSession(t *testing.T) {
	r := NewRegistry()
	engine := newBlockingEngine()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()

	s, err := r.GetOrCreate(context.Background(), req, rec, newTestTransport, engine)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session has empty ID")
	}
	if got := rec.Header().Get("Mcp-Session-Id"); got != s.ID {
		t.Fatalf("response header Mcp-Session-Id = %q, want %q", got, s.ID)
	}

	<-engine.started // confirms Run was started for the new session

	if err := r.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestRegistry_GetOrCreate_KnownSessionHeaderRoundTrips(t *testing.T) {
	r := NewRegistry()
	engine := newBlockingEngine()

	createReq := httptest.NewRequest(http.MethodPost, "/", nil)
	createRec := httptest.NewRecorder()
	s, err := r.GetOrCreate(context.Background(), createReq, createRec, newTestTransport, engine)
	if err != nil {
		t.Fatalf("GetOrCreate (create): %v", err)
	}

	lookupReq := httptest.NewRequest(http.MethodPost, "/", nil)
	lookupReq.Header.Set("Mcp-Session-Id", s.ID)
	lookupRec := httptest.NewRecorder()
	got, err := r.GetOrCreate(context.Background(), lookupReq, lookupRec, newTestTransport, engine)
	if err != nil {
		t.Fatalf("GetOrCreate (lookup): %v", err)
	}
	if got != s {
		t.Fatalf("GetOrCreate (lookup) returned a different *Session")
	}
	if got := lookupRec.Header().Get("Mcp-Session-Id"); got != s.ID {
		t.Fatalf("lookup response header Mcp-Session-Id = %q, want %q", got, s.ID)
	}
}

func TestRegistry_GetOrCreate_UnknownSessionID(t *testing.T) {
	r := NewRegistry()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Mcp-Session-Id", "does-not-exist")
	rec := httptest.NewRecorder()

	_, err := r.GetOrCreate(context.Background(), req, rec, newTestTransport, newBlockingEngine())
	if err != ErrSessionNotFound {
		t.Fatalf("GetOrCreate() err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_GetOrCreate_UserMismatch(t *testing.T) {
	r := NewRegistry()
	engine := newBlockingEngine()

	createReq := httptest.NewRequest(http.MethodPost, "/", nil)
	createReq.Header.Set("Authorization", "Bearer "+signedToken(t, map[string]any{"sub": "alice"}))
	createRec := httptest.NewRecorder()
	s, err := r.GetOrCreate(context.Background(), createReq, createRec, newTestTransport, engine)
	if err != nil {
		t.Fatalf("GetOrCreate (create): %v", err)
	}

	otherReq := httptest.NewRequest(http.MethodPost, "/", nil)
	otherReq.Header.Set("Mcp-Session-Id", s.ID)
	otherReq.Header.Set("Authorization", "Bearer "+signedToken(t, map[string]any{"sub": "bob"}))
	otherRec := httptest.NewRecorder()

	_, err = r.GetOrCreate(context.Background(), otherReq, otherRec, newTestTransport, engine)
	if err != ErrUserMismatch {
		t.Fatalf("GetOrCreate() err = %v, want ErrUserMismatch", err)
	}
}

func TestRegistry_Delete_Unknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Delete("nope"); err != ErrSessionNotFound {
		t.Fatalf("Delete() err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_Shutdown_CancelsAllSessions(t *testing.T) {
	r := NewRegistry()
	var engines []*blockingEngine
	for i := 0; i < 4; i++ {
		e := newBlockingEngine()
		engines = append(engines, e)
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		if _, err := r.GetOrCreate(context.Background(), req, rec, newTestTransport, e); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}
	for _, e := range engines {
		<-e.started
	}

	r.Shutdown()
	// Shutdown waits for every session's Run to return, so by the time it
	// returns each engine's context must already be cancelled.
	for i := range r.shards {
		if len(r.shards[i].sessions) != 0 {
			t.Fatalf("shard %d still has %d sessions after Shutdown", i, len(r.shards[i].sessions))
		}
	}
}

func TestSession_HasSameUser(t *testing.T) {
	alice := UserIdClaim{Type: "sub", Value: "alice"}
	s := newSession(context.Background(), "id", NewStreamableServerTransport("id"), alice, newBlockingEngine())
	defer s.close()

	if !s.HasSameUser(alice) {
		t.Fatalf("HasSameUser(alice) = false, want true")
	}
	if s.HasSameUser(UserIdClaim{Type: "sub", Value: "bob"}) {
		t.Fatalf("HasSameUser(bob) = true, want false")
	}
}

func TestSession_ReferenceUnreferenceTracksLastActivity(t *testing.T) {
	s := newSession(context.Background(), "id", NewStreamableServerTransport("id"), UserIdClaim{}, newBlockingEngine())
	defer s.close()

	if !s.LastActivity().IsZero() {
		t.Fatalf("LastActivity before any reference = %v, want zero", s.LastActivity())
	}
	s.Reference()
	s.Unreference()
	if s.LastActivity().IsZero() {
		t.Fatalf("LastActivity after Unreference is zero, want non-zero")
	}
}
