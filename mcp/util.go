// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// assert panics with msg if cond is false. It marks an internal invariant
// violation (e.g. a session-ID collision on insert), never a caller error.
func assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
