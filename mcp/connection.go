// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"

	"github.com/gomcp/streamtransport/jsonrpc"
)

// A Connection is a session's bidirectional JSON-RPC message stream, as
// seen by the dispatcher boundary this package sits in front of.
//
// Both server transports (StreamableServerTransport, SSEServerTransport)
// and both client transports implement Connection.
type Connection interface {
	// SessionID returns the session's ID. For client-side connections this
	// is the ID the server assigned on the first exchange, and is empty
	// until then.
	SessionID() string

	// Read returns the next message sent by the peer, blocking until one
	// arrives, ctx is done, or the connection is closed (io.EOF).
	Read(ctx context.Context) (jsonrpc.Message, error)

	// Write sends msg to the peer. For a server connection, msg is routed
	// to the HTTP response stream associated with the request it answers,
	// per the reply-routing rule in this package's design notes.
	Write(ctx context.Context, msg jsonrpc.Message) error

	// Close releases the connection's resources. It is safe to call more
	// than once.
	Close() error
}

// A ProtocolVersionSetter is implemented by client [Connection]s that
// attach the negotiated MCP protocol version to every request after a
// successful initialize exchange.
//
// Before initialize succeeds, callers must not call SetProtocolVersion;
// the connection then omits the header, as required.
type ProtocolVersionSetter interface {
	SetProtocolVersion(version string)
}

// An Engine is the JSON-RPC message dispatcher / tool registry that sits on
// the other side of the boundary this module implements: given a
// Connection, it is responsible for reading incoming messages and producing
// the responses and notifications that answer them.
//
// Engine stands in for the out-of-scope dispatcher named in this module's
// purpose statement; nothing in this package implements it.
type Engine interface {
	// Run consumes conn.Read until it returns io.EOF or ctx is done,
	// producing responses and notifications via conn.Write. Run is started
	// as a session's long-running task when the session is created.
	Run(ctx context.Context, conn Connection) error
}
