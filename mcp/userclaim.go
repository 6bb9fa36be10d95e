// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// A UserIdClaim identifies the authenticated principal that created or is
// presenting a session, so [Session.HasSameUser] can block cross-user
// session takeover.
//
// The zero UserIdClaim means "not authenticated." UserIdClaim is comparable
// by tuple equality, per spec.
type UserIdClaim struct {
	Type   string
	Value  string
	Issuer string
}

// IsZero reports whether c represents an unauthenticated principal.
func (c UserIdClaim) IsZero() bool { return c == UserIdClaim{} }

// claimPrecedence is the order in which well-known claim names are searched
// for a usable subject identifier.
var claimPrecedence = []string{"nameid", "sub", "upn"}

// ClaimsFromRequest derives a UserIdClaim from the bearer token, if any, on
// req's Authorization header.
//
// The token's signature is deliberately not verified here: signature
// verification is the job of the auth middleware that sits in front of
// this transport (out of scope per this package's boundary). This method
// only reads the claims an already-authenticated caller presented.
//
// It returns the zero UserIdClaim, false if req carries no bearer token or
// none of the claims in claimPrecedence are present.
func ClaimsFromRequest(req *http.Request) (UserIdClaim, bool) {
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return UserIdClaim{}, false
	}
	tokenString := strings.TrimSpace(auth[len(prefix):])
	if tokenString == "" {
		return UserIdClaim{}, false
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return UserIdClaim{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return UserIdClaim{}, false
	}

	issuer, _ := claims.GetIssuer()
	for _, name := range claimPrecedence {
		v, ok := claims[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		return UserIdClaim{Type: name, Value: s, Issuer: issuer}, true
	}
	return UserIdClaim{}, false
}
