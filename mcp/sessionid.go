// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// newSessionID returns a new session ID: 16 cryptographically random bytes,
// URL-safe base64 encoded without padding (22 characters).
//
// The bytes come from [uuid.NewRandom], which draws on crypto/rand; only
// the raw bytes are used, never uuid's hyphenated string form, since that
// form is not the wire format this package's callers expect.
func newSessionID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if crypto/rand itself fails to read,
		// which this package has no way to recover from.
		panic("mcp: failed to generate session id: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(id[:])
}
