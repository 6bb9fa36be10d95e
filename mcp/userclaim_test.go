// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("does-not-matter-unverified"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return s
}

func TestClaimsFromRequest_NoAuthorizationHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	claim, ok := ClaimsFromRequest(req)
	if ok || !claim.IsZero() {
		t.Fatalf("got (%+v, %v), want zero claim and false", claim, ok)
	}
}

func TestClaimsFromRequest_ClaimPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   UserIdClaim
	}{
		{
			name:   "nameid wins over sub and upn",
			claims: jwt.MapClaims{"nameid": "alice", "sub": "s-alice", "upn": "u-alice", "iss": "issuer-a"},
			want:   UserIdClaim{Type: "nameid", Value: "alice", Issuer: "issuer-a"},
		},
		{
			name:   "sub used when nameid absent",
			claims: jwt.MapClaims{"sub": "s-bob", "upn": "u-bob"},
			want:   UserIdClaim{Type: "sub", Value: "s-bob"},
		},
		{
			name:   "upn used as last resort",
			claims: jwt.MapClaims{"upn": "u-carol"},
			want:   UserIdClaim{Type: "upn", Value: "u-carol"},
		},
		{
			name:   "no recognized claim",
			claims: jwt.MapClaims{"email": "dave@example.com"},
			want:   UserIdClaim{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			req.Header.Set("Authorization", "Bearer "+signedToken(t, tt.claims))
			got, ok := ClaimsFromRequest(req)
			if got != tt.want {
				t.Fatalf("ClaimsFromRequest() = %+v, want %+v", got, tt.want)
			}
			if ok == tt.want.IsZero() {
				t.Fatalf("ClaimsFromRequest() ok = %v, want %v", ok, !tt.want.IsZero())
			}
		})
	}
}

func TestClaimsFromRequest_MalformedBearerToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	claim, ok := ClaimsFromRequest(req)
	if ok || !claim.IsZero() {
		t.Fatalf("got (%+v, %v), want zero claim and false", claim, ok)
	}
}

func TestUserIdClaim_ComparableAndMatches(t *testing.T) {
	a := UserIdClaim{Type: "sub", Value: "alice", Issuer: "iss"}
	b := UserIdClaim{Type: "sub", Value: "alice", Issuer: "iss"}
	c := UserIdClaim{Type: "sub", Value: "bob", Issuer: "iss"}
	if a != b {
		t.Fatalf("identical claims compared unequal")
	}
	if a == c {
		t.Fatalf("distinct claims compared equal")
	}
	if !(UserIdClaim{}).IsZero() {
		t.Fatalf("zero claim reports non-zero")
	}
}
